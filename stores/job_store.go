package stores

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"

	"github.com/mboers/homestore/events"
	"github.com/mboers/homestore/storage"
)

var firedJobsCounter = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "homestore",
	Name:      "fired_jobs_total",
	Help:      "The total number of jobs whose event was published at the scheduled time.",
})

var expiredJobsCounter = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "homestore",
	Name:      "expired_jobs_total",
	Help:      "The total number of jobs dropped because they were overdue past their expiration.",
})

func init() {
	prometheus.MustRegister(firedJobsCounter, expiredJobsCounter)
}

// Job is an event scheduled to be published at a point in time. A zero
// Expiration means the job fires no matter how late it is picked up;
// otherwise a job found more than Expiration past its time is dropped
// without firing.
type Job struct {
	Time       time.Time     `json:"time" msgpack:"t"`
	Event      events.Event  `json:"event" msgpack:"e"`
	Expiration time.Duration `json:"expiration" msgpack:"x"`
}

func (j *Job) Marshal() ([]byte, error) {
	return msgpack.Marshal(j)
}

func (j *Job) Unmarshal(data []byte) error {
	return msgpack.Unmarshal(data, j)
}

// JobPublisher receives the events of fired jobs.
type JobPublisher interface {
	Publish(event events.Event)
}

// JobStore persists jobs ordered by their scheduled time and runs a waker
// that publishes each job's event when its time arrives. Keys are the
// scheduled unix milliseconds; a key collision moves the new job one
// millisecond earlier until a free slot is found, so every stored job keeps
// a distinct key while its Time field stays exact. Writes serialize through
// one lock: without it two adds racing on the same millisecond would abort
// each other's transaction instead of resolving the collision.
type JobStore struct {
	sync.Mutex
	db  *badger.DB
	bus JobPublisher
	log *zap.SugaredLogger

	signal chan struct{}
	done   chan struct{}
	wg     sync.WaitGroup
}

func jobKey(key int64) []byte {
	return storage.Uint64ToBytes(uint64(key))
}

func NewJobStore(path string, bus JobPublisher) (*JobStore, error) {
	opts := badger.DefaultOptions(path).
		WithSyncWrites(false).
		WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("could not open job database: %w", err)
	}

	js := &JobStore{
		db:     db,
		bus:    bus,
		log:    zap.L().Sugar().With("service", "job-store"),
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}

	js.wg.Add(1)
	go js.wake()
	return js, nil
}

// Add stores the job and returns the key it ended up under. The job is on
// disk when Add returns.
func (js *JobStore) Add(job Job) (int64, error) {
	value, err := job.Marshal()
	if err != nil {
		return 0, fmt.Errorf("could not serialize job: %w", err)
	}

	js.Lock()
	defer js.Unlock()

	key := job.Time.UnixMilli()
	err = js.db.Update(func(txn *badger.Txn) error {
		for {
			_, err := txn.Get(jobKey(key))
			if errors.Is(err, badger.ErrKeyNotFound) {
				return txn.Set(jobKey(key), value)
			}
			if err != nil {
				return err
			}
			key--
		}
	})
	if err != nil {
		return 0, fmt.Errorf("could not store job: %w", err)
	}
	if err := js.db.Sync(); err != nil {
		return 0, fmt.Errorf("could not sync job database: %w", err)
	}

	js.notify()
	return key, nil
}

// Remove deletes the job under key and returns it, or nil if no job was
// stored there. Removing an absent key is not an error.
func (js *JobStore) Remove(key int64) (*Job, error) {
	js.Lock()
	defer js.Unlock()

	var removed *Job
	err := js.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(jobKey(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		value, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		var job Job
		if err := job.Unmarshal(value); err != nil {
			return fmt.Errorf("stored job is corrupt: %w", err)
		}
		removed = &job
		return txn.Delete(jobKey(key))
	})
	if err != nil {
		return nil, fmt.Errorf("could not remove job: %w", err)
	}
	if err := js.db.Sync(); err != nil {
		return nil, fmt.Errorf("could not sync job database: %w", err)
	}

	js.notify()
	return removed, nil
}

// Get returns the job under key, or nil if there is none.
func (js *JobStore) Get(key int64) (*Job, error) {
	var found *Job
	err := js.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(jobKey(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		value, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		var job Job
		if err := job.Unmarshal(value); err != nil {
			return fmt.Errorf("stored job is corrupt: %w", err)
		}
		found = &job
		return nil
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

// List returns every stored job keyed by its slot, soonest first.
func (js *JobStore) List() ([]int64, []Job, error) {
	var keys []int64
	var jobs []Job
	err := js.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			value, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			var job Job
			if err := job.Unmarshal(value); err != nil {
				js.log.Errorw("skipping corrupt job while listing",
					"key", storage.BytesToUint64(item.Key()))
				continue
			}
			keys = append(keys, int64(storage.BytesToUint64(item.Key())))
			jobs = append(jobs, job)
		}
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("could not list jobs: %w", err)
	}
	return keys, jobs, nil
}

// peekNext returns the soonest stored job. A job whose stored bytes no
// longer deserialize is deleted and the peek continues behind it.
func (js *JobStore) peekNext() (key int64, job Job, found bool, err error) {
	for {
		var corrupt []byte
		err = js.db.View(func(txn *badger.Txn) error {
			it := txn.NewIterator(badger.DefaultIteratorOptions)
			defer it.Close()

			it.Rewind()
			if !it.Valid() {
				return nil
			}

			item := it.Item()
			value, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if err := job.Unmarshal(value); err != nil {
				corrupt = item.KeyCopy(nil)
				return nil
			}
			key = int64(storage.BytesToUint64(item.Key()))
			found = true
			return nil
		})
		if err != nil || corrupt == nil {
			return key, job, found, err
		}

		js.log.Errorw("dropping corrupt job", "key", storage.BytesToUint64(corrupt))
		js.Lock()
		err = js.db.Update(func(txn *badger.Txn) error {
			return txn.Delete(corrupt)
		})
		js.Unlock()
		if err != nil {
			return 0, Job{}, false, err
		}
	}
}

// wake sleeps until the soonest job's time and publishes its event, waking
// early whenever Add or Remove changes the schedule.
func (js *JobStore) wake() {
	defer js.wg.Done()

	for {
		key, job, found, err := js.peekNext()
		if err != nil {
			// treat an unreadable schedule as empty and retry shortly
			js.log.Errorw("could not read next job", "error", err)
			found = false
		}

		if !found {
			select {
			case <-js.signal:
				continue
			case <-js.done:
				return
			case <-time.After(5 * time.Second):
				continue
			}
		}

		overdue := time.Since(job.Time)
		if job.Expiration > 0 && overdue > job.Expiration {
			js.log.Warnw("dropping expired job",
				"event", job.Event.Kind.String(), "scheduled", job.Time, "overdue", overdue)
			expiredJobsCounter.Inc()
			if _, err := js.Remove(key); err != nil {
				js.log.Errorw("could not remove expired job", "key", key, "error", err)
			}
			continue
		}

		timer := time.NewTimer(time.Until(job.Time))
		select {
		case <-timer.C:
			js.fire(key, job)
		case <-js.signal:
			timer.Stop()
		case <-js.done:
			timer.Stop()
			return
		}
	}
}

func (js *JobStore) fire(key int64, job Job) {
	job.Event.At = time.Now()
	js.bus.Publish(job.Event)
	firedJobsCounter.Inc()

	if _, err := js.Remove(key); err != nil {
		js.log.Errorw("could not remove fired job", "key", key, "error", err)
	}
}

// notify wakes the waker without blocking; one pending wakeup is enough.
func (js *JobStore) notify() {
	select {
	case js.signal <- struct{}{}:
	default:
	}
}

func (js *JobStore) Close() error {
	close(js.done)
	js.wg.Wait()
	return js.db.Close()
}
