package repository

import (
	"context"
	"crypto/sha1" //nolint:gosec // document ids, not security
	"encoding/hex"
	"errors"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/okian/coachboard/internal/domain/identity"
	"github.com/okian/coachboard/internal/domain/model"
)

// FirestoreStore is the Cloud Firestore backend. Case-insensitive filters use
// the normalized fields stored next to each name.
type FirestoreStore struct {
	projectID string

	mu     sync.Mutex
	client *firestore.Client
}

var _ Store = (*FirestoreStore)(nil)

// NewFirestoreStore returns a store for projectID. The client is created on
// first use.
func NewFirestoreStore(projectID string) *FirestoreStore {
	return &FirestoreStore{projectID: projectID}
}

// NewFirestoreStoreWithClient wraps an existing client, e.g. one pointed at
// the emulator.
func NewFirestoreStoreWithClient(client *firestore.Client) *FirestoreStore {
	return &FirestoreStore{client: client}
}

func (s *FirestoreStore) fs(ctx context.Context) (*firestore.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil {
		return s.client, nil
	}
	client, err := firestore.NewClient(context.WithoutCancel(ctx), s.projectID)
	if err != nil {
		return nil, storageErr("firestore connect", err)
	}
	s.client = client
	return client, nil
}

func (s *FirestoreStore) collection(ctx context.Context, name string) (*firestore.Client, *firestore.CollectionRef, error) {
	client, err := s.fs(ctx)
	if err != nil {
		return nil, nil, err
	}
	return client, client.Collection(name), nil
}

type fsAthlete struct {
	Athlete           string    `firestore:"athlete"`
	AthleteNormalized string    `firestore:"athleteNormalized"`
	Discipline        string    `firestore:"discipline"`
	Coach             string    `firestore:"coach"`
	CoachNormalized   string    `firestore:"coachNormalized"`
	Gender            string    `firestore:"gender"`
	Age               *int64    `firestore:"age"`
	Rank              string    `firestore:"rank"`
	Email             *string   `firestore:"email"`
	CreatedAt         time.Time `firestore:"createdAt"`
}

type fsDetail struct {
	Label string  `firestore:"label"`
	Value float64 `firestore:"value"`
}

type fsEvaluation struct {
	Athlete           string     `firestore:"athlete"`
	AthleteNormalized string     `firestore:"athleteNormalized"`
	Discipline        string     `firestore:"discipline"`
	Coach             string     `firestore:"coach"`
	CoachNormalized   string     `firestore:"coachNormalized"`
	Score             *float64   `firestore:"score"`
	Badge             string     `firestore:"badge"`
	BadgeTone         string     `firestore:"badgeTone"`
	Comment           string     `firestore:"comment"`
	Details           []fsDetail `firestore:"details"`
	Date              time.Time  `firestore:"date"`
	CreatedAt         time.Time  `firestore:"createdAt"`
}

func toFSAthlete(a model.Athlete) fsAthlete {
	d := fsAthlete{
		Athlete:           a.Name,
		AthleteNormalized: identity.Key(a.Name),
		Discipline:        a.Discipline,
		Coach:             a.Coach,
		CoachNormalized:   identity.Key(a.Coach),
		Gender:            a.Gender,
		Rank:              a.Rank,
		CreatedAt:         a.CreatedAt.UTC(),
	}
	if a.Age != nil {
		age := int64(*a.Age)
		d.Age = &age
	}
	if a.Email != "" {
		email := a.Email
		d.Email = &email
	}
	return d
}

func (d fsAthlete) model(id string) model.Athlete {
	a := model.Athlete{
		ID:              id,
		Name:            d.Athlete,
		Discipline:      d.Discipline,
		Coach:           d.Coach,
		CoachNormalized: d.CoachNormalized,
		Gender:          d.Gender,
		Rank:            d.Rank,
		CreatedAt:       d.CreatedAt.UTC(),
	}
	if d.Age != nil {
		age := int(*d.Age)
		a.Age = &age
	}
	if d.Email != nil {
		a.Email = *d.Email
	}
	return a
}

func toFSEvaluation(ev model.Evaluation) fsEvaluation {
	d := fsEvaluation{
		Athlete:           ev.Athlete,
		AthleteNormalized: identity.Key(ev.Athlete),
		Discipline:        ev.Discipline,
		Coach:             ev.Coach,
		CoachNormalized:   identity.Key(ev.Coach),
		Score:             ev.Score,
		Badge:             ev.Badge,
		BadgeTone:         ev.BadgeTone,
		Comment:           ev.Comment,
		Details:           make([]fsDetail, 0, len(ev.Details)),
		Date:              ev.Date.UTC(),
		CreatedAt:         ev.CreatedAt.UTC(),
	}
	for _, det := range ev.Details {
		d.Details = append(d.Details, fsDetail{Label: det.Label, Value: det.Value})
	}
	return d
}

func (d fsEvaluation) model(id string) model.Evaluation {
	ev := model.Evaluation{
		ID:         id,
		Athlete:    d.Athlete,
		Discipline: d.Discipline,
		Coach:      d.Coach,
		Score:      d.Score,
		Badge:      d.Badge,
		BadgeTone:  d.BadgeTone,
		Comment:    d.Comment,
		Details:    make([]model.Detail, 0, len(d.Details)),
		Date:       d.Date.UTC(),
		CreatedAt:  d.CreatedAt.UTC(),
	}
	for _, det := range d.Details {
		ev.Details = append(ev.Details, model.Detail{Label: det.Label, Value: det.Value})
	}
	return ev
}

// validDocID rejects ids that cannot name a document.
func validDocID(id string) bool {
	return id != "" && !strings.Contains(id, "/")
}

func mapFSError(op string, err error) error {
	if status.Code(err) == codes.NotFound {
		return ErrNotFound
	}
	return storageErr(op, err)
}

func (s *FirestoreStore) CreateAthlete(ctx context.Context, a model.Athlete) (_ model.Athlete, err error) {
	defer func(start time.Time) { observe(CollectionAthletes, "create", start, err) }(time.Now())

	_, coll, err := s.collection(ctx, CollectionAthletes)
	if err != nil {
		return model.Athlete{}, err
	}
	ref := coll.NewDoc()
	if _, err := ref.Create(ctx, toFSAthlete(a)); err != nil {
		return model.Athlete{}, storageErr("firestore create athlete", err)
	}
	a.ID = ref.ID
	return a, nil
}

func (s *FirestoreStore) ListAthletes(ctx context.Context, f AthleteFilter, limit int) (_ []model.Athlete, err error) {
	defer func(start time.Time) { observe(CollectionAthletes, "list", start, err) }(time.Now())

	_, coll, err := s.collection(ctx, CollectionAthletes)
	if err != nil {
		return nil, err
	}
	q := coll.Query
	if key := identity.Key(f.Coach); key != "" {
		q = q.Where("coachNormalized", "==", key)
	}
	snaps, err := q.OrderBy("createdAt", firestore.Desc).Limit(limit).Documents(ctx).GetAll()
	if err != nil {
		return nil, storageErr("firestore list athletes", err)
	}
	out := make([]model.Athlete, 0, len(snaps))
	for _, snap := range snaps {
		var d fsAthlete
		if err := snap.DataTo(&d); err != nil {
			return nil, storageErr("firestore decode athlete", err)
		}
		out = append(out, d.model(snap.Ref.ID))
	}
	return out, nil
}

func (s *FirestoreStore) GetAthlete(ctx context.Context, id string) (_ model.Athlete, err error) {
	defer func(start time.Time) { observe(CollectionAthletes, "get", start, err) }(time.Now())

	if !validDocID(id) {
		return model.Athlete{}, ErrNotFound
	}
	_, coll, err := s.collection(ctx, CollectionAthletes)
	if err != nil {
		return model.Athlete{}, err
	}
	snap, err := coll.Doc(id).Get(ctx)
	if err != nil {
		return model.Athlete{}, mapFSError("firestore get athlete", err)
	}
	var d fsAthlete
	if err := snap.DataTo(&d); err != nil {
		return model.Athlete{}, storageErr("firestore decode athlete", err)
	}
	return d.model(snap.Ref.ID), nil
}

func (s *FirestoreStore) UpdateAthlete(ctx context.Context, a model.Athlete) (_ model.Athlete, err error) {
	defer func(start time.Time) { observe(CollectionAthletes, "update", start, err) }(time.Now())

	if !validDocID(a.ID) {
		return model.Athlete{}, ErrNotFound
	}
	_, coll, err := s.collection(ctx, CollectionAthletes)
	if err != nil {
		return model.Athlete{}, err
	}
	d := toFSAthlete(a)
	ref := coll.Doc(a.ID)
	if _, err := ref.Update(ctx, []firestore.Update{
		{Path: "athlete", Value: d.Athlete},
		{Path: "athleteNormalized", Value: d.AthleteNormalized},
		{Path: "discipline", Value: d.Discipline},
		{Path: "coach", Value: d.Coach},
		{Path: "coachNormalized", Value: d.CoachNormalized},
		{Path: "gender", Value: d.Gender},
		{Path: "age", Value: d.Age},
		{Path: "rank", Value: d.Rank},
		{Path: "email", Value: d.Email},
	}); err != nil {
		return model.Athlete{}, mapFSError("firestore update athlete", err)
	}

	snap, err := ref.Get(ctx)
	if err != nil {
		return model.Athlete{}, mapFSError("firestore reload athlete", err)
	}
	var stored fsAthlete
	if err := snap.DataTo(&stored); err != nil {
		return model.Athlete{}, storageErr("firestore decode athlete", err)
	}
	return stored.model(ref.ID), nil
}

func (s *FirestoreStore) DeleteAthlete(ctx context.Context, id string) (err error) {
	defer func(start time.Time) { observe(CollectionAthletes, "delete", start, err) }(time.Now())

	if !validDocID(id) {
		return ErrNotFound
	}
	_, coll, err := s.collection(ctx, CollectionAthletes)
	if err != nil {
		return err
	}
	if _, err := coll.Doc(id).Delete(ctx, firestore.Exists); err != nil {
		return mapFSError("firestore delete athlete", err)
	}
	return nil
}

func (s *FirestoreStore) CreateEvaluation(ctx context.Context, ev model.Evaluation) (_ model.Evaluation, err error) {
	defer func(start time.Time) { observe(CollectionEvaluations, "create", start, err) }(time.Now())

	_, coll, err := s.collection(ctx, CollectionEvaluations)
	if err != nil {
		return model.Evaluation{}, err
	}
	ref := coll.NewDoc()
	if _, err := ref.Create(ctx, toFSEvaluation(ev)); err != nil {
		return model.Evaluation{}, storageErr("firestore create evaluation", err)
	}
	ev.ID = ref.ID
	return ev, nil
}

func (s *FirestoreStore) ListEvaluations(ctx context.Context, f EvaluationFilter, limit int) (_ []model.Evaluation, err error) {
	defer func(start time.Time) { observe(CollectionEvaluations, "list", start, err) }(time.Now())

	_, coll, err := s.collection(ctx, CollectionEvaluations)
	if err != nil {
		return nil, err
	}
	q := coll.Query
	if key := identity.Key(f.Coach); key != "" {
		q = q.Where("coachNormalized", "==", key)
	}
	snaps, err := q.OrderBy("date", firestore.Desc).Limit(limit).Documents(ctx).GetAll()
	if err != nil {
		return nil, storageErr("firestore list evaluations", err)
	}
	return decodeEvaluations(snaps)
}

func decodeEvaluations(snaps []*firestore.DocumentSnapshot) ([]model.Evaluation, error) {
	out := make([]model.Evaluation, 0, len(snaps))
	for _, snap := range snaps {
		var d fsEvaluation
		if err := snap.DataTo(&d); err != nil {
			return nil, storageErr("firestore decode evaluation", err)
		}
		out = append(out, d.model(snap.Ref.ID))
	}
	return out, nil
}

func (s *FirestoreStore) DeleteEvaluation(ctx context.Context, id string) (err error) {
	defer func(start time.Time) { observe(CollectionEvaluations, "delete", start, err) }(time.Now())

	if !validDocID(id) {
		return ErrNotFound
	}
	_, coll, err := s.collection(ctx, CollectionEvaluations)
	if err != nil {
		return err
	}
	if _, err := coll.Doc(id).Delete(ctx, firestore.Exists); err != nil {
		return mapFSError("firestore delete evaluation", err)
	}
	return nil
}

// bulk runs write for every snapshot through a BulkWriter and returns the
// number of successful writes.
func bulk(ctx context.Context, client *firestore.Client, snaps []*firestore.DocumentSnapshot,
	write func(*firestore.BulkWriter, *firestore.DocumentSnapshot) (*firestore.BulkWriterJob, error),
) (int64, error) {
	if len(snaps) == 0 {
		return 0, nil
	}
	bw := client.BulkWriter(ctx)
	jobs := make([]*firestore.BulkWriterJob, 0, len(snaps))
	var errs []error
	for _, snap := range snaps {
		job, err := write(bw, snap)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		jobs = append(jobs, job)
	}
	bw.End()

	var n int64
	for _, job := range jobs {
		if _, err := job.Results(); err != nil {
			errs = append(errs, err)
			continue
		}
		n++
	}
	return n, errors.Join(errs...)
}

func (s *FirestoreStore) deleteMatching(ctx context.Context, op string, q firestore.Query, client *firestore.Client) (int64, error) {
	snaps, err := q.Documents(ctx).GetAll()
	if err != nil {
		return 0, storageErr(op, err)
	}
	n, err := bulk(ctx, client, snaps, func(bw *firestore.BulkWriter, snap *firestore.DocumentSnapshot) (*firestore.BulkWriterJob, error) {
		return bw.Delete(snap.Ref)
	})
	if err != nil {
		return n, storageErr(op, err)
	}
	return n, nil
}

func (s *FirestoreStore) DeleteEvaluationsByAthlete(ctx context.Context, name string) (_ int64, err error) {
	defer func(start time.Time) { observe(CollectionEvaluations, "delete_by_athlete", start, err) }(time.Now())

	client, coll, err := s.collection(ctx, CollectionEvaluations)
	if err != nil {
		return 0, err
	}
	q := coll.Where("athleteNormalized", "==", identity.Key(name))
	return s.deleteMatching(ctx, "firestore delete evaluations by athlete", q, client)
}

func (s *FirestoreStore) DeleteAllEvaluations(ctx context.Context) (_ int64, err error) {
	defer func(start time.Time) { observe(CollectionEvaluations, "delete_all", start, err) }(time.Now())

	client, coll, err := s.collection(ctx, CollectionEvaluations)
	if err != nil {
		return 0, err
	}
	return s.deleteMatching(ctx, "firestore delete all evaluations", coll.Query, client)
}

func (s *FirestoreStore) RenameAthlete(ctx context.Context, oldNames []string, newName string) (_ int64, err error) {
	defer func(start time.Time) { observe(CollectionEvaluations, "rename", start, err) }(time.Now())

	keys := make([]string, 0, len(oldNames))
	seen := make(map[string]struct{}, len(oldNames))
	for _, n := range oldNames {
		k := identity.Key(n)
		if _, ok := seen[k]; ok || k == "" {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	if len(keys) == 0 {
		return 0, nil
	}

	client, coll, err := s.collection(ctx, CollectionEvaluations)
	if err != nil {
		return 0, err
	}
	snaps, err := coll.Where("athleteNormalized", "in", keys).Documents(ctx).GetAll()
	if err != nil {
		return 0, storageErr("firestore find rename targets", err)
	}

	pending := snaps[:0]
	for _, snap := range snaps {
		if current, _ := snap.DataAt("athlete"); current != newName {
			pending = append(pending, snap)
		}
	}
	n, err := bulk(ctx, client, pending, func(bw *firestore.BulkWriter, snap *firestore.DocumentSnapshot) (*firestore.BulkWriterJob, error) {
		return bw.Update(snap.Ref, []firestore.Update{
			{Path: "athlete", Value: newName},
			{Path: "athleteNormalized", Value: identity.Key(newName)},
		})
	})
	if err != nil {
		return n, storageErr("firestore rename athlete", err)
	}
	return n, nil
}

// upsertDocID derives a stable document id from the upsert key.
func upsertDocID(ev model.Evaluation) string {
	sum := sha1.Sum([]byte(upsertKey(ev))) //nolint:gosec // document ids, not security
	return hex.EncodeToString(sum[:])
}

func (s *FirestoreStore) UpsertEvaluations(ctx context.Context, evs []model.Evaluation) (_ UpsertResult, err error) {
	defer func(start time.Time) { observe(CollectionEvaluations, "upsert", start, err) }(time.Now())

	if len(evs) == 0 {
		return UpsertResult{}, nil
	}
	client, coll, err := s.collection(ctx, CollectionEvaluations)
	if err != nil {
		return UpsertResult{}, err
	}

	refs := make([]*firestore.DocumentRef, 0, len(evs))
	docs := make(map[string]fsEvaluation, len(evs))
	for _, ev := range evs {
		ref := coll.Doc(upsertDocID(ev))
		if _, dup := docs[ref.ID]; !dup {
			refs = append(refs, ref)
		}
		docs[ref.ID] = toFSEvaluation(ev)
	}
	snaps, err := client.GetAll(ctx, refs)
	if err != nil {
		return UpsertResult{}, storageErr("firestore read upsert targets", err)
	}

	var res UpsertResult
	for _, snap := range snaps {
		if snap.Exists() {
			res.Updated++
		} else {
			res.Inserted++
		}
	}
	if _, err := bulk(ctx, client, snaps, func(bw *firestore.BulkWriter, snap *firestore.DocumentSnapshot) (*firestore.BulkWriterJob, error) {
		return bw.Set(snap.Ref, docs[snap.Ref.ID])
	}); err != nil {
		return UpsertResult{}, storageErr("firestore upsert evaluations", err)
	}
	return res, nil
}

// Ping reads a single athlete document to prove connectivity.
func (s *FirestoreStore) Ping(ctx context.Context) error {
	_, coll, err := s.collection(ctx, CollectionAthletes)
	if err != nil {
		return err
	}
	if _, err := coll.Limit(1).Documents(ctx).GetAll(); err != nil {
		return storageErr("firestore ping", err)
	}
	return nil
}

// Close releases the client if one was created.
func (s *FirestoreStore) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return nil
	}
	err := s.client.Close()
	s.client = nil
	if err != nil {
		return storageErr("firestore close", err)
	}
	return nil
}
