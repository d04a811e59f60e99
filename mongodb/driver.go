// Package mongodb provides a MongoDB-backed queue driver. Pop relies
// on findAndModify (Query.Apply with Change{Remove: true}), so the
// selection of the winning envelope and its removal are one atomic
// server-side operation even with many concurrent workers.
package mongodb

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"time"

	"github.com/globalsign/mgo"
	"github.com/globalsign/mgo/bson"

	"github.com/jevido/queuekit"
)

const (
	// socketTimeout should be long enough that even a slow mongo server
	// will respond in that length of time. Since mongo servers ping themselves
	// every 10 seconds, we use a value just over 2 ping periods to allow
	// for delayed pings due to issues such as CPU starvation etc.
	socketTimeout = 21 * time.Second

	// dialTimeout should be representative of the upper bound of the
	// time taken to dial a mongo server from within the same cloud/private
	// network.
	dialTimeout = 30 * time.Second

	// defaultCollectionName is the name of the collection in MongoDB.
	// It can be overridden by SetCollectionName.
	defaultCollectionName = "queuekit_jobs"

	// countersCollectionName holds one counter document per queue for
	// assigning monotonic envelope ids.
	countersCollectionName = "queuekit_counters"
)

// Driver represents a MongoDB-backed queue driver for one named queue.
type Driver struct {
	queue          string
	mongodbURL     string
	collectionName string
	backoff        queuekit.BackoffFunc

	session  *mgo.Session
	db       *mgo.Database
	coll     *mgo.Collection
	counters *mgo.Collection

	nowFn func() time.Time // testing hook
}

// DriverOption is an options provider for Driver.
type DriverOption func(*Driver)

// NewDriver creates a MongoDB driver for the given queue. The URL must
// name a database; dialing happens in Connect.
func NewDriver(queue, mongodbURL string, options ...DriverOption) (*Driver, error) {
	uri, err := url.Parse(mongodbURL)
	if err != nil {
		return nil, err
	}
	if uri.Path == "" || uri.Path == "/" {
		return nil, errors.New("mongodb: database missing in URL")
	}
	d := &Driver{
		queue:          queue,
		mongodbURL:     mongodbURL,
		collectionName: defaultCollectionName,
		backoff:        queuekit.ExponentialBackoff,
		nowFn:          time.Now,
	}
	for _, opt := range options {
		opt(d)
	}
	return d, nil
}

// SetCollectionName overrides the default collection name.
func SetCollectionName(collectionName string) DriverOption {
	return func(d *Driver) {
		if collectionName != "" {
			d.collectionName = collectionName
		}
	}
}

// SetBackoffFunc overrides the retry backoff function.
func SetBackoffFunc(fn queuekit.BackoffFunc) DriverOption {
	return func(d *Driver) {
		if fn != nil {
			d.backoff = fn
		}
	}
}

// Connect dials the server and ensures the indexes Pop relies on.
// Calling Connect on an already connected driver is a no-op.
func (d *Driver) Connect(ctx context.Context) error {
	if d.session != nil {
		return nil
	}
	uri, err := url.Parse(d.mongodbURL)
	if err != nil {
		return err
	}
	dbname := uri.Path[1:]

	d.session, err = mgo.DialWithTimeout(d.mongodbURL, dialTimeout)
	if err != nil {
		return err
	}
	d.session.SetMode(mgo.Monotonic, true)
	d.session.SetSocketTimeout(socketTimeout)

	d.db = d.session.DB(dbname)
	d.coll = d.db.C(d.collectionName)
	d.counters = d.db.C(countersCollectionName)

	err = d.coll.EnsureIndexKey("queue", "available_at", "-priority")
	if err != nil {
		d.session.Close()
		d.session = nil
		return err
	}
	return nil
}

// Disconnect closes the session.
func (d *Driver) Disconnect(ctx context.Context) error {
	if d.session == nil {
		return nil
	}
	d.session.Close()
	d.session = nil
	return nil
}

// nextID increments and returns the per-queue envelope counter. The
// $inc upsert is atomic on the server.
func (d *Driver) nextID() (int64, error) {
	var doc struct {
		Seq int64 `bson:"seq"`
	}
	_, err := d.counters.Find(bson.M{"_id": d.queue}).Apply(mgo.Change{
		Update:    bson.M{"$inc": bson.M{"seq": int64(1)}},
		Upsert:    true,
		ReturnNew: true,
	}, &doc)
	if err != nil {
		return 0, err
	}
	return doc.Seq, nil
}

// Push inserts an envelope document.
func (d *Driver) Push(ctx context.Context, job *queuekit.Job, delay time.Duration) (int64, error) {
	id, err := d.nextID()
	if err != nil {
		return 0, err
	}
	now := d.nowFn()
	doc, err := newEnvelopeDoc(id, d.queue, job, now.Add(delay), now, "")
	if err != nil {
		return 0, err
	}
	if err := d.coll.Insert(doc); err != nil {
		return 0, err
	}
	return id, nil
}

// Pop atomically claims and removes the next eligible envelope via
// findAndModify, or returns (nil, nil) if none is eligible.
func (d *Driver) Pop(ctx context.Context) (*queuekit.Envelope, error) {
	var doc envelopeDoc
	_, err := d.coll.
		Find(bson.M{"queue": d.queue, "available_at": bson.M{"$lte": d.nowFn().UnixMilli()}}).
		Sort("-priority", "available_at", "_id").
		Apply(mgo.Change{Remove: true}, &doc)
	if err == mgo.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return doc.toEnvelope()
}

// Fail bumps the attempt counter and re-enqueues a fresh delayed
// envelope while the retry budget lasts.
func (d *Driver) Fail(ctx context.Context, env *queuekit.Envelope, jobErr error) (queuekit.FailResult, error) {
	job := env.Job
	job.Attempts++
	if job.Attempts > job.MaxRetries {
		return queuekit.FailResult{Retrying: false}, nil
	}

	delay := d.backoff(job.RetryDelay, job.Attempts)
	id, err := d.nextID()
	if err != nil {
		return queuekit.FailResult{}, err
	}
	doc, err := newEnvelopeDoc(id, d.queue, job, d.nowFn().Add(delay), env.CreatedAt, jobErr.Error())
	if err != nil {
		return queuekit.FailResult{}, err
	}
	if err := d.coll.Insert(doc); err != nil {
		return queuekit.FailResult{}, err
	}
	return queuekit.FailResult{Retrying: true, Delay: delay}, nil
}

// Complete acknowledges success. Pop already removed the document, so
// this is a documented no-op.
func (d *Driver) Complete(ctx context.Context, env *queuekit.Envelope) error {
	return nil
}

// Size returns the number of envelopes stored for this queue.
func (d *Driver) Size(ctx context.Context) (int, error) {
	return d.coll.Find(bson.M{"queue": d.queue}).Count()
}

// Clear removes all envelopes of this queue and returns the count.
func (d *Driver) Clear(ctx context.Context) (int, error) {
	info, err := d.coll.RemoveAll(bson.M{"queue": d.queue})
	if err != nil {
		return 0, err
	}
	return info.Removed, nil
}

// Stats returns the queue statistics.
func (d *Driver) Stats(ctx context.Context) (*queuekit.QueueStats, error) {
	stats := &queuekit.QueueStats{Name: d.queue}
	available, err := d.coll.Find(bson.M{
		"queue":        d.queue,
		"available_at": bson.M{"$lte": d.nowFn().UnixMilli()},
	}).Count()
	if err != nil {
		return nil, err
	}
	total, err := d.coll.Find(bson.M{"queue": d.queue}).Count()
	if err != nil {
		return nil, err
	}
	stats.Size = total
	stats.Available = available
	stats.Delayed = total - available
	return stats, nil
}

// -- MongoDB-internal representation of an envelope --

type envelopeDoc struct {
	ID          int64  `bson:"_id"`
	Queue       string `bson:"queue"`
	Job         string `bson:"job"`
	Attempts    int    `bson:"attempts"`
	Priority    int    `bson:"priority"`
	AvailableAt int64  `bson:"available_at"`
	CreatedAt   int64  `bson:"created_at"`
	LastError   string `bson:"last_error,omitempty"`
}

func newEnvelopeDoc(id int64, queue string, job *queuekit.Job, availableAt, createdAt time.Time, lastError string) (*envelopeDoc, error) {
	payload, err := json.Marshal(job)
	if err != nil {
		return nil, err
	}
	return &envelopeDoc{
		ID:          id,
		Queue:       queue,
		Job:         string(payload),
		Attempts:    job.Attempts,
		Priority:    job.Priority,
		AvailableAt: availableAt.UnixMilli(),
		CreatedAt:   createdAt.UnixMilli(),
		LastError:   lastError,
	}, nil
}

func (doc *envelopeDoc) toEnvelope() (*queuekit.Envelope, error) {
	var job queuekit.Job
	if err := json.Unmarshal([]byte(doc.Job), &job); err != nil {
		return nil, err
	}
	job.Attempts = doc.Attempts
	return &queuekit.Envelope{
		ID:          doc.ID,
		Queue:       doc.Queue,
		Job:         &job,
		Priority:    doc.Priority,
		AvailableAt: time.UnixMilli(doc.AvailableAt),
		CreatedAt:   time.UnixMilli(doc.CreatedAt),
		LastError:   doc.LastError,
	}, nil
}
