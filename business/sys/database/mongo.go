package database

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsoncodec"
	"go.mongodb.org/mongo-driver/bson/bsonrw"
	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// MongoConfig is the required properties to open the MongoDB database.
type MongoConfig struct {
	URI            string
	Database       string
	ConnectTimeout time.Duration
}

// Open knows how to open a MongoDB connection based on the configuration.
// It verifies connectivity with a ping before returning.
func Open(ctx context.Context, cfg MongoConfig) (*mongo.Client, error) {
	opts := options.Client().
		ApplyURI(cfg.URI).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetRegistry(registry())

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	return client, nil
}

// =============================================================================

// Mongo implements the Store interface against a MongoDB database.
type Mongo struct {
	db *mongo.Database
}

// NewMongo constructs a Mongo store for the specified database.
func NewMongo(client *mongo.Client, database string) *Mongo {
	return &Mongo{
		db: client.Database(database),
	}
}

// FindID retrieves the document with the specified primary key.
func (m *Mongo) FindID(ctx context.Context, collection string, id string, doc any) error {
	res := m.db.Collection(collection).FindOne(ctx, bson.M{"_id": id})
	if err := res.Decode(doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return ErrNotFound
		}
		return fmt.Errorf("find %s[%s]: %w", collection, id, err)
	}

	return nil
}

// FindOne retrieves the first document matching the specified filter.
func (m *Mongo) FindOne(ctx context.Context, collection string, filter Filter, doc any) error {
	res := m.db.Collection(collection).FindOne(ctx, toBSONFilter(filter))
	if err := res.Decode(doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return ErrNotFound
		}
		return fmt.Errorf("find one %s: %w", collection, err)
	}

	return nil
}

// Exists reports whether any document matches the specified filter.
func (m *Mongo) Exists(ctx context.Context, collection string, filter Filter) (bool, error) {
	n, err := m.db.Collection(collection).CountDocuments(ctx, toBSONFilter(filter), options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("count %s: %w", collection, err)
	}

	return n > 0, nil
}

// Save upserts the document under the specified primary key.
func (m *Mongo) Save(ctx context.Context, collection string, id string, doc any) error {
	opts := options.Replace().SetUpsert(true)
	if _, err := m.db.Collection(collection).ReplaceOne(ctx, bson.M{"_id": id}, doc, opts); err != nil {
		return fmt.Errorf("save %s[%s]: %w", collection, id, err)
	}

	return nil
}

// UpdateID applies the update to the document with the specified primary key
// and returns the number of documents modified.
func (m *Mongo) UpdateID(ctx context.Context, collection string, id string, update Update) (int64, error) {
	return m.update(ctx, collection, bson.M{"_id": id}, update)
}

// UpdateOne applies the update to the first document matching the filter and
// returns the number of documents modified.
func (m *Mongo) UpdateOne(ctx context.Context, collection string, filter Filter, update Update) (int64, error) {
	return m.update(ctx, collection, toBSONFilter(filter), update)
}

func (m *Mongo) update(ctx context.Context, collection string, filter bson.M, update Update) (int64, error) {
	res, err := m.db.Collection(collection).UpdateOne(ctx, filter, toBSONUpdate(update))
	if err != nil {
		return 0, fmt.Errorf("update %s: %w", collection, err)
	}

	return res.ModifiedCount, nil
}

// =============================================================================

func toBSONFilter(filter Filter) bson.M {
	f := bson.M{}
	for path, value := range filter {
		if exists, ok := value.(Exists); ok {
			f[path] = bson.M{"$exists": bool(exists)}
			continue
		}
		f[path] = value
	}

	return f
}

func toBSONUpdate(update Update) bson.M {
	u := bson.M{}

	if len(update.Set) > 0 {
		u["$set"] = bson.M(update.Set)
	}

	if len(update.Unset) > 0 {
		unset := bson.M{}
		for _, path := range update.Unset {
			unset[path] = ""
		}
		u["$unset"] = unset
	}

	if len(update.Inc) > 0 {
		inc := bson.M{}
		for path, delta := range update.Inc {
			inc[path] = delta
		}
		u["$inc"] = inc
	}

	if len(update.Push) > 0 {
		u["$push"] = bson.M(update.Push)
	}

	return u
}

// =============================================================================

var decimalType = reflect.TypeOf(decimal.Decimal{})

// registry extends the default bson registry with a codec that persists
// decimal values as strings so no precision is lost at rest.
func registry() *bsoncodec.Registry {
	reg := bson.NewRegistry()
	reg.RegisterTypeEncoder(decimalType, bsoncodec.ValueEncoderFunc(encodeDecimal))
	reg.RegisterTypeDecoder(decimalType, bsoncodec.ValueDecoderFunc(decodeDecimal))

	return reg
}

func encodeDecimal(_ bsoncodec.EncodeContext, vw bsonrw.ValueWriter, val reflect.Value) error {
	if !val.IsValid() || val.Type() != decimalType {
		return bsoncodec.ValueEncoderError{Name: "encodeDecimal", Types: []reflect.Type{decimalType}, Received: val}
	}

	dec := val.Interface().(decimal.Decimal)
	return vw.WriteString(dec.String())
}

func decodeDecimal(_ bsoncodec.DecodeContext, vr bsonrw.ValueReader, val reflect.Value) error {
	if !val.CanSet() || val.Type() != decimalType {
		return bsoncodec.ValueDecoderError{Name: "decodeDecimal", Types: []reflect.Type{decimalType}, Received: val}
	}

	var dec decimal.Decimal

	switch vr.Type() {
	case bsontype.String:
		s, err := vr.ReadString()
		if err != nil {
			return err
		}
		d, err := decimal.NewFromString(s)
		if err != nil {
			return fmt.Errorf("decode decimal %q: %w", s, err)
		}
		dec = d

	case bsontype.Double:
		f, err := vr.ReadDouble()
		if err != nil {
			return err
		}
		dec = decimal.NewFromFloat(f)

	case bsontype.Int32:
		i, err := vr.ReadInt32()
		if err != nil {
			return err
		}
		dec = decimal.NewFromInt32(i)

	case bsontype.Int64:
		i, err := vr.ReadInt64()
		if err != nil {
			return err
		}
		dec = decimal.NewFromInt(i)

	case bsontype.Null:
		if err := vr.ReadNull(); err != nil {
			return err
		}

	default:
		return fmt.Errorf("cannot decode %v into a decimal", vr.Type())
	}

	val.Set(reflect.ValueOf(dec))
	return nil
}
