// Package mongostore stores backend documents in MongoDB, one collection per
// backend collection inside a database named after the backend database.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"snapgram/internal/backend"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const countersCollection = "_counters"

type record struct {
	ID        string    `bson:"_id"`
	Seq       int64     `bson:"seq"`
	Data      bson.M    `bson:"data"`
	CreatedAt time.Time `bson:"createdAt"`
	UpdatedAt time.Time `bson:"updatedAt"`
}

type Documents struct {
	client *mongo.Client
	now    func() time.Time
}

var _ backend.Documents = (*Documents)(nil)

func New(client *mongo.Client) *Documents {
	return &Documents{client: client, now: time.Now}
}

func (s *Documents) collection(databaseID, collectionID string) *mongo.Collection {
	return s.client.Database(databaseID).Collection(collectionID)
}

// nextSeq hands out the insertion order used to break sort ties.
func (s *Documents) nextSeq(ctx context.Context, databaseID, collectionID string) (int64, error) {
	var out struct {
		Seq int64 `bson:"seq"`
	}
	err := s.client.Database(databaseID).Collection(countersCollection).FindOneAndUpdate(ctx,
		bson.M{"_id": collectionID},
		bson.M{"$inc": bson.M{"seq": int64(1)}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&out)
	if err != nil {
		return 0, fmt.Errorf("next seq: %w", err)
	}
	return out.Seq, nil
}

func toDocument(databaseID, collectionID string, r *record) *backend.Document {
	return &backend.Document{
		ID:           r.ID,
		DatabaseID:   databaseID,
		CollectionID: collectionID,
		CreatedAt:    r.CreatedAt.UTC(),
		UpdatedAt:    r.UpdatedAt.UTC(),
		Data:         normalizeMap(r.Data),
	}
}

// normalize turns driver containers into plain maps and slices.
func normalize(v any) any {
	switch vv := v.(type) {
	case primitive.A:
		out := make([]any, len(vv))
		for i, x := range vv {
			out[i] = normalize(x)
		}
		return out
	case bson.M:
		return normalizeMap(vv)
	case primitive.D:
		return normalizeMap(vv.Map())
	case primitive.DateTime:
		return vv.Time().UTC()
	}
	return v
}

func normalizeMap(m bson.M) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = normalize(v)
	}
	return out
}

func (s *Documents) CreateDocument(ctx context.Context, databaseID, collectionID, documentID string, data map[string]any) (*backend.Document, error) {
	if documentID == "" {
		documentID = backend.UniqueID()
	}
	seq, err := s.nextSeq(ctx, databaseID, collectionID)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC().Truncate(time.Millisecond)
	r := record{ID: documentID, Seq: seq, Data: bson.M(data), CreatedAt: now, UpdatedAt: now}
	if r.Data == nil {
		r.Data = bson.M{}
	}
	if _, err := s.collection(databaseID, collectionID).InsertOne(ctx, r); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, fmt.Errorf("document %s: %w", documentID, backend.ErrConflict)
		}
		return nil, fmt.Errorf("insert document: %w", err)
	}
	return toDocument(databaseID, collectionID, &r), nil
}

func (s *Documents) GetDocument(ctx context.Context, databaseID, collectionID, documentID string) (*backend.Document, error) {
	var r record
	err := s.collection(databaseID, collectionID).FindOne(ctx, bson.M{"_id": documentID}).Decode(&r)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("document %s: %w", documentID, backend.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	return toDocument(databaseID, collectionID, &r), nil
}

// UpdateDocument sets the given attributes and leaves the rest untouched.
func (s *Documents) UpdateDocument(ctx context.Context, databaseID, collectionID, documentID string, data map[string]any) (*backend.Document, error) {
	set := bson.M{"updatedAt": s.now().UTC().Truncate(time.Millisecond)}
	for k, v := range data {
		set["data."+k] = v
	}
	var r record
	err := s.collection(databaseID, collectionID).FindOneAndUpdate(ctx,
		bson.M{"_id": documentID},
		bson.M{"$set": set},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&r)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("document %s: %w", documentID, backend.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("update document: %w", err)
	}
	return toDocument(databaseID, collectionID, &r), nil
}

func (s *Documents) DeleteDocument(ctx context.Context, databaseID, collectionID, documentID string) error {
	res, err := s.collection(databaseID, collectionID).DeleteOne(ctx, bson.M{"_id": documentID})
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("document %s: %w", documentID, backend.ErrNotFound)
	}
	return nil
}

func field(attr string) string {
	switch attr {
	case backend.AttrID:
		return "_id"
	case backend.AttrCreatedAt:
		return "createdAt"
	case backend.AttrUpdatedAt:
		return "updatedAt"
	}
	return "data." + attr
}

func filterFor(q backend.Query) bson.M {
	switch q.Method {
	case backend.MethodEqual:
		return bson.M{field(q.Attribute): bson.M{"$in": q.Values}}
	case backend.MethodContains:
		// a scalar match on an array field matches any element
		return bson.M{field(q.Attribute): q.Values[0]}
	case backend.MethodSearch:
		term, _ := q.Values[0].(string)
		words := strings.Fields(term)
		if len(words) == 0 {
			return bson.M{"_id": bson.M{"$exists": false}}
		}
		all := make(bson.A, 0, len(words))
		for _, w := range words {
			all = append(all, bson.M{field(q.Attribute): primitive.Regex{Pattern: regexp.QuoteMeta(w), Options: "i"}})
		}
		return bson.M{"$and": all}
	}
	return bson.M{}
}

func (s *Documents) ListDocuments(ctx context.Context, databaseID, collectionID string, queries ...backend.Query) (*backend.DocumentList, error) {
	plan, err := backend.Compile(queries)
	if err != nil {
		return nil, err
	}
	col := s.collection(databaseID, collectionID)

	clauses := bson.A{}
	for _, f := range plan.Filters {
		clauses = append(clauses, filterFor(f))
	}

	sort := bson.D{{Key: "seq", Value: 1}}
	if plan.OrderBy != "" {
		dir := 1
		if plan.Descending {
			dir = -1
		}
		sort = bson.D{{Key: field(plan.OrderBy), Value: dir}, {Key: "seq", Value: 1}}
	}

	if plan.CursorAfter != "" {
		var cur bson.M
		err := col.FindOne(ctx, bson.M{"_id": plan.CursorAfter}).Decode(&cur)
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("cursor %s: %w", plan.CursorAfter, backend.ErrNotFound)
		}
		if err != nil {
			return nil, fmt.Errorf("cursor lookup: %w", err)
		}
		after := bson.M{"seq": bson.M{"$gt": cur["seq"]}}
		if plan.OrderBy != "" {
			f := field(plan.OrderBy)
			v := lookup(cur, f)
			op := "$gt"
			if plan.Descending {
				op = "$lt"
			}
			after = bson.M{"$or": bson.A{
				bson.M{f: bson.M{op: v}},
				bson.M{f: v, "seq": bson.M{"$gt": cur["seq"]}},
			}}
		}
		clauses = append(clauses, after)
	}

	filter := bson.M{}
	if len(clauses) > 0 {
		filter = bson.M{"$and": clauses}
	}

	total, err := col.CountDocuments(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("count documents: %w", err)
	}
	list := &backend.DocumentList{Total: int(total), Documents: []backend.Document{}}
	if plan.Limit == 0 {
		return list, nil
	}

	cursor, err := col.Find(ctx, filter, options.Find().SetSort(sort).SetLimit(int64(plan.Limit)))
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer cursor.Close(ctx)

	for cursor.Next(ctx) {
		var r record
		if err := cursor.Decode(&r); err != nil {
			return nil, fmt.Errorf("decode document: %w", err)
		}
		list.Documents = append(list.Documents, *toDocument(databaseID, collectionID, &r))
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	return list, nil
}

// lookup follows a dotted path such as data.caption through nested maps.
func lookup(m bson.M, path string) any {
	var cur any = m
	for _, part := range strings.Split(path, ".") {
		switch mm := cur.(type) {
		case bson.M:
			cur = mm[part]
		case primitive.D:
			cur = mm.Map()[part]
		default:
			return nil
		}
	}
	return cur
}
