package core

// PageRequest is an offset-based page selection. A zero Limit selects everything.
type PageRequest struct {
	Skip  int
	Limit int
}

// NewPageRequest translates a 1-based page number and a page size into offsets.
func NewPageRequest(page, pageSize int) PageRequest {
	if page < 1 {
		page = 1
	}
	return PageRequest{Skip: (page - 1) * pageSize, Limit: pageSize}
}

// Window returns the [start, end) bounds of the page within a collection of n items.
func (pr PageRequest) Window(n int) (int, int) {
	start := pr.Skip
	if start > n {
		start = n
	}
	end := n
	if pr.Limit > 0 && start+pr.Limit < n {
		end = start + pr.Limit
	}
	return start, end
}

type Pagination struct {
	TotalDocuments  int  `json:"totalDocuments"`
	TotalPages      int  `json:"totalPages"`
	CurrentPage     int  `json:"currentPage"`
	HasNextPage     bool `json:"hasNextPage"`
	NextPages       int  `json:"nextPages"`
	HasPreviousPage bool `json:"hasPreviousPage"`
	PreviousPages   int  `json:"previousPages"`
}

func NewPagination(total, page, pageSize int) Pagination {
	totalPages := 0
	if pageSize > 0 {
		totalPages = (total + pageSize - 1) / pageSize
	}
	nextPages := totalPages - page
	if nextPages < 0 {
		nextPages = 0
	}
	return Pagination{
		TotalDocuments:  total,
		TotalPages:      totalPages,
		CurrentPage:     page,
		HasNextPage:     page < totalPages,
		NextPages:       nextPages,
		HasPreviousPage: page > 1,
		PreviousPages:   page - 1,
	}
}
