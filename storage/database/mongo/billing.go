package mongodb

import (
	"context"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/trezcool/bursar/core"
	"github.com/trezcool/bursar/core/billing"
)

var paymentSort = bson.D{
	{Key: "paymentDate", Value: -1},
	{Key: "createdAt", Value: -1},
	{Key: "_id", Value: 1},
}

type billingRepository struct {
	db   *DB
	sess mongo.SessionContext // set within a transaction
}

var _ billing.Repository = (*billingRepository)(nil)

func NewBillingRepository(db *DB) billing.Repository {
	return &billingRepository{db: db}
}

// ctx routes the operation through the running transaction, if any.
func (repo *billingRepository) ctx(ctx context.Context) context.Context {
	if repo.sess != nil {
		return repo.sess
	}
	return ctx
}

func (repo *billingRepository) coll(name string) *mongo.Collection {
	return repo.db.db.Collection(name)
}

func (repo *billingRepository) WithinTx(ctx context.Context, fn func(tx billing.Repository) error) error {
	if repo.sess != nil {
		return fn(repo)
	}

	sess, err := repo.db.client.StartSession()
	if err != nil {
		return core.NewStorageError(err, "starting session")
	}
	defer sess.EndSession(ctx)

	_, err = sess.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(&billingRepository{db: repo.db, sess: sc})
	})
	return err
}

func (repo *billingRepository) insert(ctx context.Context, coll string, doc interface{}) error {
	if _, err := repo.coll(coll).InsertOne(repo.ctx(ctx), doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			if coll == paymentsCollection && strings.Contains(err.Error(), idempotencyIndex) {
				return errors.Wrap(billing.ErrVersionConflict, idempotencyIndex)
			}
			return core.NewStorageError(errors.Wrap(billing.ErrDuplicateRecord, coll), "inserting into "+coll)
		}
		return core.NewStorageError(err, "inserting into "+coll)
	}
	return nil
}

func (repo *billingRepository) findOne(ctx context.Context, coll string, filter bson.M, doc interface{}, notFound error) error {
	if err := repo.coll(coll).FindOne(repo.ctx(ctx), filter).Decode(doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return notFound
		}
		return core.NewStorageError(err, "finding in "+coll)
	}
	return nil
}

func find[T any](ctx context.Context, coll *mongo.Collection, filter bson.M, opts ...*options.FindOptions) ([]T, error) {
	cur, err := coll.Find(ctx, filter, opts...)
	if err != nil {
		return nil, core.NewStorageError(err, "finding in "+coll.Name())
	}
	docs := make([]T, 0)
	if err = cur.All(ctx, &docs); err != nil {
		return nil, core.NewStorageError(err, "decoding "+coll.Name())
	}
	return docs, nil
}

func (repo *billingRepository) deleteByID(ctx context.Context, coll string, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res, err := repo.coll(coll).DeleteMany(repo.ctx(ctx), bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return 0, core.NewStorageError(err, "deleting from "+coll)
	}
	return int(res.DeletedCount), nil
}

// eq sets filter[field] = value unless value is empty.
func eq(filter bson.M, field, value string) {
	if value != "" {
		filter[field] = value
	}
}

// Students

func (repo *billingRepository) CreateStudent(ctx context.Context, std billing.Student) (billing.Student, error) {
	if std.ID == "" {
		std.ID = uuid.NewString()
	}
	doc := newStudentDoc(std)
	if err := repo.insert(ctx, studentsCollection, doc); err != nil {
		return billing.Student{}, err
	}
	return doc.toStudent(), nil
}

func (repo *billingRepository) GetStudent(ctx context.Context, id string) (billing.Student, error) {
	var doc studentDoc
	if err := repo.findOne(ctx, studentsCollection, bson.M{"_id": id}, &doc, billing.ErrStudentNotFound); err != nil {
		return billing.Student{}, err
	}
	return doc.toStudent(), nil
}

func (repo *billingRepository) QueryStudents(ctx context.Context) ([]billing.Student, error) {
	docs, err := find[studentDoc](repo.ctx(ctx), repo.coll(studentsCollection), bson.M{}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, err
	}
	students := make([]billing.Student, 0, len(docs))
	for _, doc := range docs {
		students = append(students, doc.toStudent())
	}
	return students, nil
}

func (repo *billingRepository) AddStudentPlan(ctx context.Context, studentID, planID string) error {
	res, err := repo.coll(studentsCollection).UpdateOne(
		repo.ctx(ctx),
		bson.M{"_id": studentID},
		bson.M{
			"$addToSet":    bson.M{"plan": planID},
			"$currentDate": bson.M{"updatedAt": true},
		},
	)
	if err != nil {
		return core.NewStorageError(err, "updating student plans")
	}
	if res.MatchedCount == 0 {
		return billing.ErrStudentNotFound
	}
	return nil
}

func (repo *billingRepository) DeleteStudentsByID(ctx context.Context, ids ...string) (int, error) {
	return repo.deleteByID(ctx, studentsCollection, ids)
}

// Courses

func (repo *billingRepository) CreateCourse(ctx context.Context, course billing.Course) (billing.Course, error) {
	if course.ID == "" {
		course.ID = uuid.NewString()
	}
	doc, err := newCourseDoc(course)
	if err != nil {
		return billing.Course{}, core.NewStorageError(err, "inserting into "+coursesCollection)
	}
	if err = repo.insert(ctx, coursesCollection, doc); err != nil {
		return billing.Course{}, err
	}
	return doc.toCourse(), nil
}

func (repo *billingRepository) GetCourse(ctx context.Context, id string) (billing.Course, error) {
	var doc courseDoc
	if err := repo.findOne(ctx, coursesCollection, bson.M{"_id": id}, &doc, billing.ErrCourseNotFound); err != nil {
		return billing.Course{}, err
	}
	return doc.toCourse(), nil
}

// Payment plans

func (repo *billingRepository) CreatePlan(ctx context.Context, plan billing.PaymentPlan) (billing.PaymentPlan, error) {
	if plan.ID == "" {
		plan.ID = uuid.NewString()
	}
	plan.Version = 1
	doc, err := newPlanDoc(plan)
	if err != nil {
		return billing.PaymentPlan{}, core.NewStorageError(err, "inserting into "+plansCollection)
	}
	if err = repo.insert(ctx, plansCollection, doc); err != nil {
		return billing.PaymentPlan{}, err
	}
	return doc.toPlan(), nil
}

func (repo *billingRepository) GetPlan(ctx context.Context, id string) (billing.PaymentPlan, error) {
	var doc planDoc
	if err := repo.findOne(ctx, plansCollection, bson.M{"_id": id}, &doc, billing.ErrPlanNotFound); err != nil {
		return billing.PaymentPlan{}, err
	}
	return doc.toPlan(), nil
}

func (repo *billingRepository) QueryPlans(ctx context.Context, filter billing.PlanFilter) ([]billing.PaymentPlan, error) {
	q := bson.M{}
	eq(q, "user", filter.StudentID)
	eq(q, "courseId", filter.CourseID)
	eq(q, "center", filter.CenterID)

	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}})
	docs, err := find[planDoc](repo.ctx(ctx), repo.coll(plansCollection), q, opts)
	if err != nil {
		return nil, err
	}
	plans := make([]billing.PaymentPlan, 0, len(docs))
	for _, doc := range docs {
		plans = append(plans, doc.toPlan())
	}
	return plans, nil
}

func (repo *billingRepository) UpdatePlan(ctx context.Context, plan billing.PaymentPlan) (billing.PaymentPlan, error) {
	doc, err := newPlanDoc(plan)
	if err != nil {
		return billing.PaymentPlan{}, core.NewStorageError(err, "updating payment plan")
	}
	set := bson.M{
		"center":          doc.CenterID,
		"amount":          doc.Amount,
		"installments":    doc.Installments,
		"estimate":        doc.Estimate,
		"regDate":         doc.RegistrationDate,
		"nextPaymentDate": doc.NextPaymentDate,
		"updatedAt":       doc.UpdatedAt,
	}
	update := bson.M{"$set": set, "$inc": bson.M{"version": 1}}
	if doc.LastPaymentDate != nil {
		set["lastPaymentDate"] = *doc.LastPaymentDate
	} else {
		update["$unset"] = bson.M{"lastPaymentDate": ""}
	}

	res, err := repo.coll(plansCollection).UpdateOne(repo.ctx(ctx), bson.M{"_id": plan.ID, "version": plan.Version}, update)
	if err != nil {
		return billing.PaymentPlan{}, core.NewStorageError(err, "updating payment plan")
	}
	if res.MatchedCount == 0 {
		if _, err = repo.GetPlan(ctx, plan.ID); err != nil {
			return billing.PaymentPlan{}, err
		}
		return billing.PaymentPlan{}, billing.ErrVersionConflict
	}
	return repo.GetPlan(ctx, plan.ID)
}

func (repo *billingRepository) DeletePlansByID(ctx context.Context, ids ...string) (int, error) {
	return repo.deleteByID(ctx, plansCollection, ids)
}

// Payments

func (repo *billingRepository) CreatePayment(ctx context.Context, pmt billing.Payment) (billing.Payment, error) {
	if pmt.ID == "" {
		pmt.ID = uuid.NewString()
	}
	doc, err := newPaymentDoc(pmt)
	if err != nil {
		return billing.Payment{}, core.NewStorageError(err, "inserting into "+paymentsCollection)
	}
	if err = repo.insert(ctx, paymentsCollection, doc); err != nil {
		return billing.Payment{}, err
	}
	return doc.toPayment(), nil
}

func (repo *billingRepository) GetPayment(ctx context.Context, lookup billing.PaymentLookup) (billing.Payment, error) {
	var q bson.M
	switch {
	case lookup.ID != "":
		q = bson.M{"_id": lookup.ID}
	case lookup.IdempotencyKey != "":
		q = bson.M{"paymentPlanId": lookup.PlanID, "idempotencyKey": lookup.IdempotencyKey}
	default:
		return billing.Payment{}, billing.ErrPaymentNotFound
	}

	var doc paymentDoc
	if err := repo.findOne(ctx, paymentsCollection, q, &doc, billing.ErrPaymentNotFound); err != nil {
		return billing.Payment{}, err
	}
	return doc.toPayment(), nil
}

func paymentQuery(filter billing.PaymentFilter) bson.M {
	q := bson.M{}
	eq(q, "user", filter.StudentID)
	eq(q, "paymentPlanId", filter.PlanID)
	eq(q, "center", filter.CenterID)
	eq(q, "courseId", filter.CourseID)
	if filter.Search != "" {
		rx := primitive.Regex{Pattern: regexp.QuoteMeta(filter.Search), Options: "i"}
		q["$or"] = bson.A{
			bson.M{"student.fullname": rx},
			bson.M{"student.email": rx},
			bson.M{"student.phone": rx},
			bson.M{"student.studentId": rx},
		}
	}
	return q
}

func (repo *billingRepository) QueryPayments(ctx context.Context, filter billing.PaymentFilter, page core.PageRequest) ([]billing.Payment, int, error) {
	ctx = repo.ctx(ctx)
	coll := repo.coll(paymentsCollection)
	q := paymentQuery(filter)

	total, err := coll.CountDocuments(ctx, q)
	if err != nil {
		return nil, 0, core.NewStorageError(err, "counting payments")
	}

	opts := options.Find().SetSort(paymentSort)
	if page.Skip > 0 {
		opts.SetSkip(int64(page.Skip))
	}
	if page.Limit > 0 {
		opts.SetLimit(int64(page.Limit))
	}
	docs, err := find[paymentDoc](ctx, coll, q, opts)
	if err != nil {
		return nil, 0, err
	}
	payments := make([]billing.Payment, 0, len(docs))
	for _, doc := range docs {
		payments = append(payments, doc.toPayment())
	}
	return payments, int(total), nil
}

func (repo *billingRepository) DeletePaymentsByID(ctx context.Context, ids ...string) (int, error) {
	return repo.deleteByID(ctx, paymentsCollection, ids)
}

// Invoices

func (repo *billingRepository) CreateInvoice(ctx context.Context, inv billing.Invoice) (billing.Invoice, error) {
	if inv.ID == "" {
		inv.ID = uuid.NewString()
	}
	doc, err := newInvoiceDoc(inv)
	if err != nil {
		return billing.Invoice{}, core.NewStorageError(err, "inserting into "+invoicesCollection)
	}
	if err = repo.insert(ctx, invoicesCollection, doc); err != nil {
		return billing.Invoice{}, err
	}
	return doc.toInvoice(), nil
}

func (repo *billingRepository) GetInvoice(ctx context.Context, id string) (billing.Invoice, error) {
	var doc invoiceDoc
	if err := repo.findOne(ctx, invoicesCollection, bson.M{"_id": id}, &doc, billing.ErrInvoiceNotFound); err != nil {
		return billing.Invoice{}, err
	}
	return doc.toInvoice(), nil
}

func (repo *billingRepository) QueryInvoices(ctx context.Context, filter billing.InvoiceFilter) ([]billing.Invoice, error) {
	q := bson.M{}
	eq(q, "paymentPlanId", filter.PlanID)

	opts := options.Find().SetSort(bson.D{{Key: "dueDate", Value: 1}, {Key: "_id", Value: 1}})
	docs, err := find[invoiceDoc](repo.ctx(ctx), repo.coll(invoicesCollection), q, opts)
	if err != nil {
		return nil, err
	}
	invoices := make([]billing.Invoice, 0, len(docs))
	for _, doc := range docs {
		invoices = append(invoices, doc.toInvoice())
	}
	return invoices, nil
}

func (repo *billingRepository) DeleteInvoicesByID(ctx context.Context, ids ...string) (int, error) {
	return repo.deleteByID(ctx, invoicesCollection, ids)
}
