package firestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/firestore/apiv1/firestorepb"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/simplemem/pkg/domain/interfaces"
	"github.com/secmon-lab/simplemem/pkg/domain/model"
	"github.com/secmon-lab/simplemem/pkg/utils/logging"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// EmbeddingField is the vector field used by FindNearest and the vector index
const EmbeddingField = "Embedding"

const distanceField = "VectorDistance"

// Relation kinds of record → entity edges
const (
	RelationPerson   = "person"
	RelationEntity   = "entity"
	RelationLocation = "location"
)

// recordDoc is the record node. Embedding is stored as firestore.Vector32
// for FindNearest vector search.
type recordDoc struct {
	EntryID     string             `firestore:"EntryID"`
	Restatement string             `firestore:"Restatement"`
	Keywords    []string           `firestore:"Keywords"`
	Timestamp   string             `firestore:"Timestamp"`
	Location    string             `firestore:"Location"`
	Persons     []string           `firestore:"Persons"`
	Entities    []string           `firestore:"Entities"`
	Topic       string             `firestore:"Topic"`
	Embedding   firestore.Vector32 `firestore:"Embedding,omitempty"`
	CreatedAt   time.Time          `firestore:"CreatedAt"`
}

// entityDoc is a person, entity or location node shared between records
type entityDoc struct {
	Kind      string    `firestore:"Kind"`
	Name      string    `firestore:"Name"`
	UpdatedAt time.Time `firestore:"UpdatedAt"`
}

// edgeDoc links a record node to an entity node
type edgeDoc struct {
	EntryID  string `firestore:"EntryID"`
	EntityID string `firestore:"EntityID"`
	Kind     string `firestore:"Kind"`
	Name     string `firestore:"Name"`
}

func toRecordDoc(r *model.MemoryRecord) *recordDoc {
	doc := &recordDoc{
		EntryID:     r.EntryID.String(),
		Restatement: r.LosslessRestatement,
		Keywords:    r.Keywords,
		Timestamp:   r.Timestamp,
		Location:    r.Location,
		Persons:     r.Persons,
		Entities:    r.Entities,
		Topic:       r.Topic,
		CreatedAt:   r.CreatedAt,
	}
	if len(r.Vector) > 0 {
		doc.Embedding = firestore.Vector32(r.Vector)
	}
	return doc
}

func fromRecordDoc(d *recordDoc) *model.MemoryRecord {
	r := &model.MemoryRecord{
		EntryID:             model.EntryID(d.EntryID),
		LosslessRestatement: d.Restatement,
		Keywords:            d.Keywords,
		Timestamp:           d.Timestamp,
		Location:            d.Location,
		Persons:             d.Persons,
		Entities:            d.Entities,
		Topic:               d.Topic,
		CreatedAt:           d.CreatedAt,
	}
	if r.Keywords == nil {
		r.Keywords = []string{}
	}
	if r.Persons == nil {
		r.Persons = []string{}
	}
	if r.Entities == nil {
		r.Entities = []string{}
	}
	if len(d.Embedding) > 0 {
		r.Vector = []float32(d.Embedding)
	}
	return r
}

type edge struct {
	id     string
	entity string
	doc    *edgeDoc
}

func entityID(kind, name string) string {
	sum := sha256.Sum256([]byte(kind + "\x00" + name))
	return hex.EncodeToString(sum[:16])
}

// edgesOf returns the graph edges implied by a record's persons, entities and location
func edgesOf(r *model.MemoryRecord) []edge {
	var edges []edge
	add := func(kind, name string) {
		if name == "" {
			return
		}
		eid := entityID(kind, name)
		edges = append(edges, edge{
			id:     r.EntryID.String() + "_" + eid,
			entity: eid,
			doc: &edgeDoc{
				EntryID:  r.EntryID.String(),
				EntityID: eid,
				Kind:     kind,
				Name:     name,
			},
		})
	}
	for _, p := range r.Persons {
		add(RelationPerson, p)
	}
	for _, e := range r.Entities {
		add(RelationEntity, e)
	}
	add(RelationLocation, r.Location)
	return edges
}

// Table stores records as graph nodes in Firestore: record nodes in the
// table collection, shared entity nodes in "<table>_entities" and
// record→entity edges in "<table>_edges".
type Table struct {
	projectID  string
	databaseID string
	name       string

	mu     sync.RWMutex
	client *firestore.Client
}

var _ interfaces.RecordTable = &Table{}

// New creates a table. The client connects on Open.
func New(projectID, databaseID, name string) *Table {
	if databaseID == "" {
		databaseID = firestore.DefaultDatabaseID
	}
	return &Table{
		projectID:  projectID,
		databaseID: databaseID,
		name:       name,
	}
}

func (t *Table) Name() string {
	return t.name
}

func (t *Table) Location() string {
	return "firestore://" + t.projectID + "/" + t.databaseID
}

func (t *Table) Open(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.client != nil {
		return nil
	}
	if t.projectID == "" {
		return goerr.Wrap(model.ErrBackendUnavailable, "firestore project ID is not configured")
	}

	client, err := firestore.NewClientWithDatabase(ctx, t.projectID, t.databaseID)
	if err != nil {
		return goerr.Wrap(model.ErrBackendUnavailable, "failed to create firestore client",
			goerr.V("project_id", t.projectID),
			goerr.V("database_id", t.databaseID),
			goerr.V("error", err.Error()))
	}
	t.client = client

	logging.From(ctx).Info("Connected to firestore graph store",
		"project_id", t.projectID,
		"database_id", t.databaseID,
		"collection", t.name,
	)
	return nil
}

func (t *Table) conn() (*firestore.Client, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.client == nil {
		return nil, goerr.Wrap(model.ErrNotInitialized, "firestore table is not open", goerr.V(model.TableNameKey, t.name))
	}
	return t.client, nil
}

func (t *Table) records(c *firestore.Client) *firestore.CollectionRef {
	return c.Collection(t.name)
}

func (t *Table) entities(c *firestore.Client) *firestore.CollectionRef {
	return c.Collection(t.name + "_entities")
}

func (t *Table) edges(c *firestore.Client) *firestore.CollectionRef {
	return c.Collection(t.name + "_edges")
}

// Upsert writes the record nodes, their entity nodes and edges in a single
// transaction, so a call is stored completely or not at all. An existing
// record keeps its CreatedAt so list order is stable.
func (t *Table) Upsert(ctx context.Context, records []*model.MemoryRecord) error {
	if len(records) == 0 {
		return nil
	}
	c, err := t.conn()
	if err != nil {
		return err
	}
	for _, rec := range records {
		if rec.EntryID == "" {
			return goerr.Wrap(model.ErrInvalidInput, "record has no entry id")
		}
	}

	now := time.Now().UTC()
	err = c.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		// Firestore transactions read everything before the first write
		docs := make([]*recordDoc, len(records))
		edges := make(map[string]edge)
		var staleEdges []*firestore.DocumentRef

		for i, rec := range records {
			doc := toRecordDoc(rec)
			snap, err := tx.Get(t.records(c).Doc(rec.EntryID.String()))
			switch {
			case err == nil:
				var existing recordDoc
				if err := snap.DataTo(&existing); err != nil {
					return goerr.Wrap(err, "failed to unmarshal record", goerr.V(model.EntryIDKey, rec.EntryID))
				}
				doc.CreatedAt = existing.CreatedAt
			case status.Code(err) == codes.NotFound:
			default:
				return goerr.Wrap(err, "failed to get record", goerr.V(model.EntryIDKey, rec.EntryID))
			}
			docs[i] = doc

			for _, e := range edgesOf(rec) {
				edges[e.id] = e
			}

			oldEdges, err := tx.Documents(t.edges(c).Where("EntryID", "==", rec.EntryID.String())).GetAll()
			if err != nil {
				return goerr.Wrap(err, "failed to get record edges", goerr.V(model.EntryIDKey, rec.EntryID))
			}
			for _, old := range oldEdges {
				staleEdges = append(staleEdges, old.Ref)
			}
		}

		for i, rec := range records {
			if err := tx.Set(t.records(c).Doc(rec.EntryID.String()), docs[i]); err != nil {
				return goerr.Wrap(err, "failed to set record", goerr.V(model.EntryIDKey, rec.EntryID))
			}
		}
		for _, ref := range staleEdges {
			if _, keep := edges[ref.ID]; keep {
				continue
			}
			if err := tx.Delete(ref); err != nil {
				return goerr.Wrap(err, "failed to delete edge")
			}
		}

		nodes := make(map[string]struct{})
		for _, e := range edges {
			if _, done := nodes[e.entity]; !done {
				nodes[e.entity] = struct{}{}
				node := &entityDoc{Kind: e.doc.Kind, Name: e.doc.Name, UpdatedAt: now}
				if err := tx.Set(t.entities(c).Doc(e.entity), node); err != nil {
					return goerr.Wrap(err, "failed to set entity")
				}
			}
			if err := tx.Set(t.edges(c).Doc(e.id), e.doc); err != nil {
				return goerr.Wrap(err, "failed to set edge")
			}
		}
		return nil
	})
	if err != nil {
		return goerr.Wrap(err, "failed to upsert records", goerr.V("count", len(records)))
	}
	return nil
}

func (t *Table) Get(ctx context.Context, id model.EntryID) (*model.MemoryRecord, error) {
	c, err := t.conn()
	if err != nil {
		return nil, err
	}

	snap, err := t.records(c).Doc(id.String()).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, goerr.Wrap(model.ErrNotFound, "memory record not found", goerr.V(model.EntryIDKey, id))
		}
		return nil, goerr.Wrap(err, "failed to get record", goerr.V(model.EntryIDKey, id))
	}

	var d recordDoc
	if err := snap.DataTo(&d); err != nil {
		return nil, goerr.Wrap(err, "failed to unmarshal record", goerr.V(model.EntryIDKey, id))
	}
	return fromRecordDoc(&d), nil
}

func (t *Table) List(ctx context.Context, limit int) ([]*model.MemoryRecord, error) {
	c, err := t.conn()
	if err != nil {
		return nil, err
	}

	q := t.records(c).OrderBy("CreatedAt", firestore.Asc)
	if limit > 0 {
		q = q.Limit(limit)
	}

	iter := q.Documents(ctx)
	defer iter.Stop()

	records := make([]*model.MemoryRecord, 0)
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to iterate records")
		}

		var d recordDoc
		if err := snap.DataTo(&d); err != nil {
			return nil, goerr.Wrap(err, "failed to unmarshal record")
		}
		records = append(records, fromRecordDoc(&d))
	}
	return records, nil
}

// maxNearest is the largest limit FindNearest accepts
const maxNearest = 1000

func (t *Table) Search(ctx context.Context, vector []float32, limit int, threshold *float64) ([]*model.ScoredRecord, error) {
	c, err := t.conn()
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > maxNearest {
		limit = maxNearest
	}

	opts := &firestore.FindNearestOptions{DistanceResultField: distanceField}
	if threshold != nil {
		// cosine distance = 1 - cosine similarity
		maxDistance := 1 - *threshold
		opts.DistanceThreshold = &maxDistance
	}

	vq := t.records(c).FindNearest(EmbeddingField, firestore.Vector32(vector), limit, firestore.DistanceMeasureCosine, opts)
	iter := vq.Documents(ctx)
	defer iter.Stop()

	results := make([]*model.ScoredRecord, 0, limit)
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to iterate vector search results")
		}

		var d recordDoc
		if err := snap.DataTo(&d); err != nil {
			return nil, goerr.Wrap(err, "failed to unmarshal record from vector search")
		}

		score := 0.0
		if dist, ok := snap.Data()[distanceField].(float64); ok {
			score = 1 - dist
		}
		results = append(results, &model.ScoredRecord{Record: fromRecordDoc(&d), Score: score})
	}
	return results, nil
}

// Count runs a server-side aggregation instead of reading documents
func (t *Table) Count(ctx context.Context) (int, error) {
	c, err := t.conn()
	if err != nil {
		return 0, err
	}

	res, err := t.records(c).NewAggregationQuery().WithCount("all").Get(ctx)
	if err != nil {
		return 0, goerr.Wrap(err, "failed to count records")
	}

	v, ok := res["all"].(*firestorepb.Value)
	if !ok {
		return 0, goerr.New("unexpected count aggregation result", goerr.V("result", res))
	}
	return int(v.GetIntegerValue()), nil
}

func (t *Table) Delete(ctx context.Context, id model.EntryID) error {
	c, err := t.conn()
	if err != nil {
		return err
	}

	recRef := t.records(c).Doc(id.String())
	err = c.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if _, err := tx.Get(recRef); err != nil {
			if status.Code(err) == codes.NotFound {
				return goerr.Wrap(model.ErrNotFound, "memory record not found", goerr.V(model.EntryIDKey, id))
			}
			return goerr.Wrap(err, "failed to get record")
		}

		edges, err := tx.Documents(t.edges(c).Where("EntryID", "==", id.String())).GetAll()
		if err != nil {
			return goerr.Wrap(err, "failed to get record edges")
		}

		if err := tx.Delete(recRef); err != nil {
			return goerr.Wrap(err, "failed to delete record")
		}
		for _, e := range edges {
			if err := tx.Delete(e.Ref); err != nil {
				return goerr.Wrap(err, "failed to delete edge")
			}
		}
		return nil
	})
	if err != nil {
		return goerr.Wrap(err, "failed to delete record", goerr.V(model.EntryIDKey, id))
	}
	return nil
}

// DeleteAll removes every node and edge of the table
func (t *Table) DeleteAll(ctx context.Context) error {
	c, err := t.conn()
	if err != nil {
		return err
	}

	eg, ctx := errgroup.WithContext(ctx)
	for _, col := range []*firestore.CollectionRef{t.records(c), t.entities(c), t.edges(c)} {
		eg.Go(func() error {
			return deleteCollection(ctx, c, col)
		})
	}
	if err := eg.Wait(); err != nil {
		return goerr.Wrap(err, "failed to clear firestore table", goerr.V(model.TableNameKey, t.name))
	}
	return nil
}

func deleteCollection(ctx context.Context, c *firestore.Client, col *firestore.CollectionRef) error {
	bw := c.BulkWriter(ctx)
	iter := col.DocumentRefs(ctx)

	var jobs []*firestore.BulkWriterJob
	for {
		ref, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			bw.End()
			return goerr.Wrap(err, "failed to iterate documents", goerr.V("collection", col.ID))
		}
		job, err := bw.Delete(ref)
		if err != nil {
			bw.End()
			return goerr.Wrap(err, "failed to enqueue delete", goerr.V("collection", col.ID))
		}
		jobs = append(jobs, job)
	}
	bw.End()

	for _, job := range jobs {
		if _, err := job.Results(); err != nil {
			return goerr.Wrap(err, "failed to delete document", goerr.V("collection", col.ID))
		}
	}
	return nil
}

func (t *Table) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.client == nil {
		return nil
	}
	err := t.client.Close()
	t.client = nil
	if err != nil {
		return goerr.Wrap(err, "failed to close firestore client")
	}
	return nil
}
