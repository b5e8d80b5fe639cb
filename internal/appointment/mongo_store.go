package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const AppointmentsCollection = "appointments"

type patientDocument struct {
	FirstName string `bson:"firstName"`
	LastName  string `bson:"lastName"`
	Email     string `bson:"email"`
}

type appointmentDocument struct {
	ID         string          `bson:"_id"`
	Patient    patientDocument `bson:"patient"`
	TimeSlot   string          `bson:"timeSlot"`
	DoctorName string          `bson:"doctorName"`
	CreatedAt  time.Time       `bson:"createdAt"`
	UpdatedAt  time.Time       `bson:"updatedAt"`
}

func toDocument(a Appointment) appointmentDocument {
	return appointmentDocument{
		ID: a.ID.String(),
		Patient: patientDocument{
			FirstName: a.Patient.FirstName,
			LastName:  a.Patient.LastName,
			Email:     a.Patient.Email,
		},
		TimeSlot:   a.TimeSlot,
		DoctorName: a.DoctorName,
		CreatedAt:  a.CreatedAt,
		UpdatedAt:  a.UpdatedAt,
	}
}

func (d appointmentDocument) toAppointment() (Appointment, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return Appointment{}, fmt.Errorf("decode appointment id %q: %w", d.ID, err)
	}
	return Appointment{
		ID: id,
		Patient: Patient{
			FirstName: d.Patient.FirstName,
			LastName:  d.Patient.LastName,
			Email:     d.Patient.Email,
		},
		TimeSlot:   d.TimeSlot,
		DoctorName: d.DoctorName,
		CreatedAt:  d.CreatedAt.UTC(),
		UpdatedAt:  d.UpdatedAt.UTC(),
	}, nil
}

// MongoStore keeps one document per appointment. The unique
// {doctorName, timeSlot} index created by EnsureIndexes is what makes
// inserts and slot moves exclusive.
type MongoStore struct {
	coll *mongo.Collection
	now  func() time.Time
}

func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{coll: db.Collection(AppointmentsCollection), now: time.Now}
}

func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "doctorName", Value: 1}, {Key: "timeSlot", Value: 1}},
			Options: options.Index().SetName("doctor_slot_unique").SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "patient.email", Value: 1}, {Key: "timeSlot", Value: 1}, {Key: "createdAt", Value: 1}},
			Options: options.Index().SetName("patient_slot"),
		},
	})
	if err != nil {
		return fmt.Errorf("create appointment indexes: %w", err)
	}
	return nil
}

func classifyMongoError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, mongo.ErrNoDocuments):
		return ErrAppointmentNotFound
	case mongo.IsDuplicateKeyError(err):
		return ErrSlotTaken
	case errors.Is(err, context.DeadlineExceeded), mongo.IsTimeout(err), mongo.IsNetworkError(err):
		return Transient(err)
	}
	return err
}

func (s *MongoStore) findOne(ctx context.Context, filter bson.M) (*Appointment, error) {
	var doc appointmentDocument
	if err := s.coll.FindOne(ctx, filter).Decode(&doc); err != nil {
		return nil, classifyMongoError(err)
	}
	a, err := doc.toAppointment()
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *MongoStore) FindByDoctorAndSlot(ctx context.Context, doctorName, timeSlot string) (*Appointment, error) {
	return s.findOne(ctx, bson.M{"doctorName": doctorName, "timeSlot": timeSlot})
}

func (s *MongoStore) Reserve(ctx context.Context, appt Appointment) (*Appointment, error) {
	now := s.now().UTC().Truncate(time.Millisecond)
	appt.CreatedAt = now
	appt.UpdatedAt = now

	_, err := s.coll.InsertOne(ctx, toDocument(appt))
	if err == nil {
		return &appt, nil
	}

	err = classifyMongoError(err)
	if !errors.Is(err, ErrSlotTaken) {
		return nil, fmt.Errorf("reserve slot: %w", err)
	}

	// A duplicate can be our own earlier attempt.
	existing, findErr := s.findOne(ctx, bson.M{
		"_id":        appt.ID.String(),
		"doctorName": appt.DoctorName,
		"timeSlot":   appt.TimeSlot,
	})
	if findErr == nil {
		return existing, nil
	}
	if errors.Is(findErr, ErrAppointmentNotFound) {
		return nil, ErrSlotTaken
	}
	return nil, fmt.Errorf("check reserve retry: %w", findErr)
}

func (s *MongoStore) Release(ctx context.Context, email, timeSlot string) (*Appointment, error) {
	opts := options.FindOneAndDelete().SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}})

	var doc appointmentDocument
	err := s.coll.FindOneAndDelete(ctx, bson.M{"patient.email": email, "timeSlot": timeSlot}, opts).Decode(&doc)
	if err != nil {
		err = classifyMongoError(err)
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("release slot: %w", err)
	}

	a, err := doc.toAppointment()
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *MongoStore) TransferSlot(ctx context.Context, email, fromTimeSlot, toTimeSlot string) (*Appointment, error) {
	opts := options.FindOneAndUpdate().
		SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}}).
		SetReturnDocument(options.After)

	update := bson.M{"$set": bson.M{
		"timeSlot":  toTimeSlot,
		"updatedAt": s.now().UTC().Truncate(time.Millisecond),
	}}

	var doc appointmentDocument
	err := s.coll.FindOneAndUpdate(ctx, bson.M{"patient.email": email, "timeSlot": fromTimeSlot}, update, opts).Decode(&doc)
	if err != nil {
		err = classifyMongoError(err)
		if errors.Is(err, ErrAppointmentNotFound) || errors.Is(err, ErrSlotTaken) {
			return nil, err
		}
		return nil, fmt.Errorf("move appointment: %w", err)
	}

	a, err := doc.toAppointment()
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *MongoStore) FindByPatient(ctx context.Context, email string) ([]Appointment, error) {
	return s.find(ctx, bson.M{"patient.email": email})
}

func (s *MongoStore) FindByDoctor(ctx context.Context, doctorName string) ([]Appointment, error) {
	return s.find(ctx, bson.M{"doctorName": doctorName})
}

func (s *MongoStore) find(ctx context.Context, filter bson.M) ([]Appointment, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}})

	cursor, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find appointments: %w", classifyMongoError(err))
	}
	defer cursor.Close(ctx)

	var docs []appointmentDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode appointments: %w", classifyMongoError(err))
	}

	result := make([]Appointment, 0, len(docs))
	for _, d := range docs {
		a, err := d.toAppointment()
		if err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	return result, nil
}
