package repository

import (
	"context"
	"errors"
	"math"
	"regexp"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/okian/coachboard/internal/domain/identity"
	"github.com/okian/coachboard/internal/domain/model"
)

// MongoStore is the MongoDB backend. The client is created on first use and
// shared by all calls until Close.
type MongoStore struct {
	uri    string
	dbName string

	mu     sync.Mutex
	client *mongo.Client
	db     *mongo.Database
}

var _ Store = (*MongoStore)(nil)

// NewMongoStore returns a store for database dbName at uri. No connection is
// made until the first call.
func NewMongoStore(uri, dbName string) *MongoStore {
	return &MongoStore{uri: uri, dbName: dbName}
}

func (s *MongoStore) database(ctx context.Context) (*mongo.Database, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		return s.db, nil
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(s.uri))
	if err != nil {
		return nil, storageErr("mongo connect", err)
	}
	s.client = client
	s.db = client.Database(s.dbName)
	return s.db, nil
}

func (s *MongoStore) collection(ctx context.Context, name string) (*mongo.Collection, error) {
	db, err := s.database(ctx)
	if err != nil {
		return nil, err
	}
	return db.Collection(name), nil
}

// EnsureIndexes creates the indexes used by listings and seeding.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	athletes, err := s.collection(ctx, CollectionAthletes)
	if err != nil {
		return err
	}
	if _, err := athletes.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "createdAt", Value: -1}}},
		{Keys: bson.D{{Key: "coachNormalized", Value: 1}, {Key: "createdAt", Value: -1}}},
	}); err != nil {
		return storageErr("mongo athlete indexes", err)
	}

	evaluations, err := s.collection(ctx, CollectionEvaluations)
	if err != nil {
		return err
	}
	if _, err := evaluations.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "date", Value: -1}}},
		{Keys: bson.D{{Key: "athleteNormalized", Value: 1}}},
		{Keys: bson.D{
			{Key: "athlete", Value: 1},
			{Key: "discipline", Value: 1},
			{Key: "coach", Value: 1},
			{Key: "date", Value: 1},
		}},
	}); err != nil {
		return storageErr("mongo evaluation indexes", err)
	}
	return nil
}

type athleteDoc struct {
	ID                any     `bson:"_id,omitempty"`
	Athlete           string  `bson:"athlete"`
	AthleteNormalized string  `bson:"athleteNormalized"`
	Discipline        string  `bson:"discipline"`
	Coach             string  `bson:"coach"`
	CoachNormalized   string  `bson:"coachNormalized"`
	Gender            string  `bson:"gender"`
	Age               any     `bson:"age"`
	Rank              string  `bson:"rank"`
	Email             *string `bson:"email"`
	CreatedAt         any     `bson:"createdAt,omitempty"`
}

type detailDoc struct {
	Label string `bson:"label"`
	Value any    `bson:"value"`
}

type evaluationDoc struct {
	ID                any         `bson:"_id,omitempty"`
	Athlete           string      `bson:"athlete"`
	AthleteNormalized string      `bson:"athleteNormalized"`
	Discipline        string      `bson:"discipline"`
	Coach             string      `bson:"coach"`
	CoachNormalized   string      `bson:"coachNormalized"`
	Score             any         `bson:"score"`
	Badge             string      `bson:"badge"`
	BadgeTone         string      `bson:"badgeTone"`
	Comment           string      `bson:"comment"`
	Details           []detailDoc `bson:"details"`
	Date              any         `bson:"date"`
	CreatedAt         any         `bson:"createdAt"`
}

func toAthleteDoc(a model.Athlete) athleteDoc {
	d := athleteDoc{
		Athlete:           a.Name,
		AthleteNormalized: identity.Key(a.Name),
		Discipline:        a.Discipline,
		Coach:             a.Coach,
		CoachNormalized:   identity.Key(a.Coach),
		Gender:            a.Gender,
		Rank:              a.Rank,
	}
	if a.Age != nil {
		d.Age = *a.Age
	}
	if a.Email != "" {
		email := a.Email
		d.Email = &email
	}
	if !a.CreatedAt.IsZero() {
		d.CreatedAt = formatTime(a.CreatedAt)
	}
	return d
}

func (d athleteDoc) model() model.Athlete {
	a := model.Athlete{
		ID:              idString(d.ID),
		Name:            d.Athlete,
		Discipline:      d.Discipline,
		Coach:           d.Coach,
		CoachNormalized: d.CoachNormalized,
		Gender:          d.Gender,
		Rank:            d.Rank,
		CreatedAt:       parseTime(d.CreatedAt),
	}
	if a.CoachNormalized == "" {
		a.CoachNormalized = identity.Key(d.Coach)
	}
	if f := toFloat(d.Age); f != nil {
		age := int(math.Trunc(*f))
		a.Age = &age
	}
	if d.Email != nil {
		a.Email = *d.Email
	}
	return a
}

func toEvaluationDoc(ev model.Evaluation) evaluationDoc {
	d := evaluationDoc{
		Athlete:           ev.Athlete,
		AthleteNormalized: identity.Key(ev.Athlete),
		Discipline:        ev.Discipline,
		Coach:             ev.Coach,
		CoachNormalized:   identity.Key(ev.Coach),
		Badge:             ev.Badge,
		BadgeTone:         ev.BadgeTone,
		Comment:           ev.Comment,
		Details:           make([]detailDoc, 0, len(ev.Details)),
		Date:              formatTime(ev.Date),
		CreatedAt:         formatTime(ev.CreatedAt),
	}
	if ev.Score != nil {
		d.Score = *ev.Score
	}
	for _, det := range ev.Details {
		d.Details = append(d.Details, detailDoc{Label: det.Label, Value: det.Value})
	}
	return d
}

func (d evaluationDoc) model() model.Evaluation {
	ev := model.Evaluation{
		ID:         idString(d.ID),
		Athlete:    d.Athlete,
		Discipline: d.Discipline,
		Coach:      d.Coach,
		Score:      toFloat(d.Score),
		Badge:      d.Badge,
		BadgeTone:  d.BadgeTone,
		Comment:    d.Comment,
		Details:    make([]model.Detail, 0, len(d.Details)),
		Date:       parseTime(d.Date),
		CreatedAt:  parseTime(d.CreatedAt),
	}
	for _, det := range d.Details {
		v := toFloat(det.Value)
		if v == nil {
			continue
		}
		ev.Details = append(ev.Details, model.Detail{Label: det.Label, Value: *v})
	}
	return ev
}

func idString(v any) string {
	switch id := v.(type) {
	case primitive.ObjectID:
		return id.Hex()
	case string:
		return id
	}
	return ""
}

func toFloat(v any) *float64 {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case int32:
		f = float64(n)
	case int64:
		f = float64(n)
	case int:
		f = float64(n)
	default:
		return nil
	}
	return &f
}

// idFilter matches both ObjectID and legacy string ids.
func idFilter(id string) bson.M {
	if oid, err := primitive.ObjectIDFromHex(id); err == nil {
		return bson.M{"$or": bson.A{bson.M{"_id": oid}, bson.M{"_id": id}}}
	}
	return bson.M{"_id": id}
}

// equalFold matches a whole field value case-insensitively.
func equalFold(name string) primitive.Regex {
	return primitive.Regex{Pattern: "^" + regexp.QuoteMeta(name) + "$", Options: "i"}
}

func coachFilter(coach string) bson.M {
	if coach = identity.Name(coach); coach != "" {
		return bson.M{"coach": equalFold(coach)}
	}
	return bson.M{}
}

func (s *MongoStore) CreateAthlete(ctx context.Context, a model.Athlete) (_ model.Athlete, err error) {
	defer func(start time.Time) { observe(CollectionAthletes, "create", start, err) }(time.Now())

	coll, err := s.collection(ctx, CollectionAthletes)
	if err != nil {
		return model.Athlete{}, err
	}
	res, err := coll.InsertOne(ctx, toAthleteDoc(a))
	if err != nil {
		return model.Athlete{}, storageErr("mongo insert athlete", err)
	}
	a.ID = idString(res.InsertedID)
	return a, nil
}

func (s *MongoStore) ListAthletes(ctx context.Context, f AthleteFilter, limit int) (_ []model.Athlete, err error) {
	defer func(start time.Time) { observe(CollectionAthletes, "list", start, err) }(time.Now())

	coll, err := s.collection(ctx, CollectionAthletes)
	if err != nil {
		return nil, err
	}
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}}).SetLimit(int64(limit))
	cur, err := coll.Find(ctx, coachFilter(f.Coach), opts)
	if err != nil {
		return nil, storageErr("mongo find athletes", err)
	}
	var docs []athleteDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, storageErr("mongo decode athletes", err)
	}
	out := make([]model.Athlete, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.model())
	}
	return out, nil
}

func (s *MongoStore) GetAthlete(ctx context.Context, id string) (_ model.Athlete, err error) {
	defer func(start time.Time) { observe(CollectionAthletes, "get", start, err) }(time.Now())

	coll, err := s.collection(ctx, CollectionAthletes)
	if err != nil {
		return model.Athlete{}, err
	}
	var d athleteDoc
	if err := coll.FindOne(ctx, idFilter(id)).Decode(&d); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return model.Athlete{}, ErrNotFound
		}
		return model.Athlete{}, storageErr("mongo find athlete", err)
	}
	return d.model(), nil
}

func (s *MongoStore) UpdateAthlete(ctx context.Context, a model.Athlete) (_ model.Athlete, err error) {
	defer func(start time.Time) { observe(CollectionAthletes, "update", start, err) }(time.Now())

	coll, err := s.collection(ctx, CollectionAthletes)
	if err != nil {
		return model.Athlete{}, err
	}
	d := toAthleteDoc(a)
	set := bson.M{
		"athlete":           d.Athlete,
		"athleteNormalized": d.AthleteNormalized,
		"discipline":        d.Discipline,
		"coach":             d.Coach,
		"coachNormalized":   d.CoachNormalized,
		"gender":            d.Gender,
		"age":               d.Age,
		"rank":              d.Rank,
		"email":             d.Email,
	}
	res, err := coll.UpdateOne(ctx, idFilter(a.ID), bson.M{"$set": set})
	if err != nil {
		return model.Athlete{}, storageErr("mongo update athlete", err)
	}
	if res.MatchedCount == 0 {
		return model.Athlete{}, ErrNotFound
	}

	var stored athleteDoc
	if err := coll.FindOne(ctx, idFilter(a.ID)).Decode(&stored); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return model.Athlete{}, ErrNotFound
		}
		return model.Athlete{}, storageErr("mongo reload athlete", err)
	}
	return stored.model(), nil
}

func (s *MongoStore) DeleteAthlete(ctx context.Context, id string) (err error) {
	defer func(start time.Time) { observe(CollectionAthletes, "delete", start, err) }(time.Now())

	coll, err := s.collection(ctx, CollectionAthletes)
	if err != nil {
		return err
	}
	res, err := coll.DeleteOne(ctx, idFilter(id))
	if err != nil {
		return storageErr("mongo delete athlete", err)
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoStore) CreateEvaluation(ctx context.Context, ev model.Evaluation) (_ model.Evaluation, err error) {
	defer func(start time.Time) { observe(CollectionEvaluations, "create", start, err) }(time.Now())

	coll, err := s.collection(ctx, CollectionEvaluations)
	if err != nil {
		return model.Evaluation{}, err
	}
	res, err := coll.InsertOne(ctx, toEvaluationDoc(ev))
	if err != nil {
		return model.Evaluation{}, storageErr("mongo insert evaluation", err)
	}
	ev.ID = idString(res.InsertedID)
	return ev, nil
}

func (s *MongoStore) ListEvaluations(ctx context.Context, f EvaluationFilter, limit int) (_ []model.Evaluation, err error) {
	defer func(start time.Time) { observe(CollectionEvaluations, "list", start, err) }(time.Now())

	coll, err := s.collection(ctx, CollectionEvaluations)
	if err != nil {
		return nil, err
	}
	opts := options.Find().SetSort(bson.D{{Key: "date", Value: -1}}).SetLimit(int64(limit))
	cur, err := coll.Find(ctx, coachFilter(f.Coach), opts)
	if err != nil {
		return nil, storageErr("mongo find evaluations", err)
	}
	var docs []evaluationDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, storageErr("mongo decode evaluations", err)
	}
	out := make([]model.Evaluation, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.model())
	}
	return out, nil
}

func (s *MongoStore) DeleteEvaluation(ctx context.Context, id string) (err error) {
	defer func(start time.Time) { observe(CollectionEvaluations, "delete", start, err) }(time.Now())

	coll, err := s.collection(ctx, CollectionEvaluations)
	if err != nil {
		return err
	}
	res, err := coll.DeleteOne(ctx, idFilter(id))
	if err != nil {
		return storageErr("mongo delete evaluation", err)
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoStore) DeleteEvaluationsByAthlete(ctx context.Context, name string) (_ int64, err error) {
	defer func(start time.Time) { observe(CollectionEvaluations, "delete_by_athlete", start, err) }(time.Now())

	coll, err := s.collection(ctx, CollectionEvaluations)
	if err != nil {
		return 0, err
	}
	res, err := coll.DeleteMany(ctx, bson.M{"athlete": equalFold(identity.Name(name))})
	if err != nil {
		return 0, storageErr("mongo delete evaluations by athlete", err)
	}
	return res.DeletedCount, nil
}

func (s *MongoStore) DeleteAllEvaluations(ctx context.Context) (_ int64, err error) {
	defer func(start time.Time) { observe(CollectionEvaluations, "delete_all", start, err) }(time.Now())

	coll, err := s.collection(ctx, CollectionEvaluations)
	if err != nil {
		return 0, err
	}
	res, err := coll.DeleteMany(ctx, bson.M{})
	if err != nil {
		return 0, storageErr("mongo delete all evaluations", err)
	}
	return res.DeletedCount, nil
}

func (s *MongoStore) RenameAthlete(ctx context.Context, oldNames []string, newName string) (_ int64, err error) {
	defer func(start time.Time) { observe(CollectionEvaluations, "rename", start, err) }(time.Now())

	or := bson.A{}
	for _, n := range oldNames {
		if n = identity.Name(n); n != "" {
			or = append(or, bson.M{"athlete": equalFold(n)})
		}
	}
	if len(or) == 0 {
		return 0, nil
	}

	coll, err := s.collection(ctx, CollectionEvaluations)
	if err != nil {
		return 0, err
	}
	res, err := coll.UpdateMany(ctx, bson.M{"$or": or}, bson.M{"$set": bson.M{
		"athlete":           newName,
		"athleteNormalized": identity.Key(newName),
	}})
	if err != nil {
		return 0, storageErr("mongo rename athlete", err)
	}
	return res.ModifiedCount, nil
}

func (s *MongoStore) UpsertEvaluations(ctx context.Context, evs []model.Evaluation) (_ UpsertResult, err error) {
	defer func(start time.Time) { observe(CollectionEvaluations, "upsert", start, err) }(time.Now())

	if len(evs) == 0 {
		return UpsertResult{}, nil
	}
	coll, err := s.collection(ctx, CollectionEvaluations)
	if err != nil {
		return UpsertResult{}, err
	}

	writes := make([]mongo.WriteModel, 0, len(evs))
	for _, ev := range evs {
		d := toEvaluationDoc(ev)
		filter := bson.M{
			"athlete":    d.Athlete,
			"discipline": d.Discipline,
			"coach":      d.Coach,
			"date":       d.Date,
		}
		writes = append(writes, mongo.NewUpdateOneModel().
			SetFilter(filter).
			SetUpdate(bson.M{"$set": d}).
			SetUpsert(true))
	}
	res, err := coll.BulkWrite(ctx, writes, options.BulkWrite().SetOrdered(false))
	if err != nil {
		return UpsertResult{}, storageErr("mongo upsert evaluations", err)
	}
	return UpsertResult{Inserted: res.UpsertedCount, Updated: res.ModifiedCount}, nil
}

// Ping verifies the primary is reachable.
func (s *MongoStore) Ping(ctx context.Context) error {
	db, err := s.database(ctx)
	if err != nil {
		return err
	}
	if err := db.Client().Ping(ctx, readpref.Primary()); err != nil {
		return storageErr("mongo ping", err)
	}
	return nil
}

// Close disconnects the shared client if one was created.
func (s *MongoStore) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return nil
	}
	err := s.client.Disconnect(ctx)
	s.client, s.db = nil, nil
	if err != nil {
		return storageErr("mongo disconnect", err)
	}
	return nil
}
