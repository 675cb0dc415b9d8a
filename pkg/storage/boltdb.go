package storage

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/cuemby/agentnode/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketProfiles      = []byte("profiles")
	bucketIdentityCache = []byte("identity_cache")
	bucketRetryQueue    = []byte("retry_queue")
	bucketInbox         = []byte("inbox")
)

const (
	subBucketJobs          = "jobs"
	subBucketTools         = "tools"
	subBucketSubscriptions = "subscriptions"
	subBucketVFSResources  = "vfs_resources"
	subBucketSharedFolders = "shared_folders"
	subBucketJobQueue      = "job_queue"
)

// BoltStore implements Store on top of a single BoltDB file. Entities
// that belong to a profile (jobs, tools, subscriptions, VFS resources,
// shared folder manifests) live under profiles/<profile>/<kind>; the
// identity cache, retry queue, and per-inbox history are node-wide.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if absent) the node's database file
// under dataDir.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "agentnode.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, ioErr("open", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketProfiles, bucketIdentityCache, bucketRetryQueue, bucketInbox} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, ioErr("open", err)
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

// profileBucket returns the nested bucket named kind under
// profiles/<profile>, creating the chain if it doesn't exist yet.
func profileBucket(tx *bolt.Tx, profile, kind string) (*bolt.Bucket, error) {
	profiles := tx.Bucket(bucketProfiles)
	pb, err := profiles.CreateBucketIfNotExists([]byte(profile))
	if err != nil {
		return nil, err
	}
	return pb.CreateBucketIfNotExists([]byte(kind))
}

// profileBucketView is the read-only counterpart of profileBucket; it
// returns nil (not an error) if the profile or kind bucket is absent.
func profileBucketView(tx *bolt.Tx, profile, kind string) *bolt.Bucket {
	profiles := tx.Bucket(bucketProfiles)
	pb := profiles.Bucket([]byte(profile))
	if pb == nil {
		return nil
	}
	return pb.Bucket([]byte(kind))
}

// --- Jobs ---

func (s *BoltStore) PutJob(profile string, job *types.Job) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := profileBucket(tx, profile, subBucketJobs)
		if err != nil {
			return err
		}
		data, err := json.Marshal(job)
		if err != nil {
			return err
		}
		return b.Put([]byte(job.ID), data)
	})
}

func (s *BoltStore) GetJob(profile, jobID string) (*types.Job, error) {
	var job types.Job
	err := s.db.View(func(tx *bolt.Tx) error {
		b := profileBucketView(tx, profile, subBucketJobs)
		if b == nil {
			return fmt.Errorf("job %s not found", jobID)
		}
		data := b.Get([]byte(jobID))
		if data == nil {
			return fmt.Errorf("job %s not found", jobID)
		}
		return json.Unmarshal(data, &job)
	})
	if err != nil {
		return nil, notFound("GetJob", err)
	}
	return &job, nil
}

func (s *BoltStore) ListJobs(profile string) ([]*types.Job, error) {
	var jobs []*types.Job
	err := s.db.View(func(tx *bolt.Tx) error {
		b := profileBucketView(tx, profile, subBucketJobs)
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var job types.Job
			if err := json.Unmarshal(v, &job); err != nil {
				return err
			}
			jobs = append(jobs, &job)
			return nil
		})
	})
	if err != nil {
		return nil, corrupt("ListJobs", err)
	}
	return jobs, nil
}

func (s *BoltStore) DeleteJob(profile, jobID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := profileBucket(tx, profile, subBucketJobs)
		if err != nil {
			return err
		}
		return b.Delete([]byte(jobID))
	})
}

// --- Tools ---

func (s *BoltStore) PutTool(profile string, tool *types.Tool) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := profileBucket(tx, profile, subBucketTools)
		if err != nil {
			return err
		}
		data, err := json.Marshal(tool)
		if err != nil {
			return err
		}
		return b.Put([]byte(tool.Key), data)
	})
}

func (s *BoltStore) GetTool(profile, key string) (*types.Tool, error) {
	var tool types.Tool
	err := s.db.View(func(tx *bolt.Tx) error {
		b := profileBucketView(tx, profile, subBucketTools)
		if b == nil {
			return fmt.Errorf("tool %s not found", key)
		}
		data := b.Get([]byte(key))
		if data == nil {
			return fmt.Errorf("tool %s not found", key)
		}
		return json.Unmarshal(data, &tool)
	})
	if err != nil {
		return nil, notFound("GetTool", err)
	}
	return &tool, nil
}

func (s *BoltStore) ListTools(profile string) ([]*types.Tool, error) {
	var tools []*types.Tool
	err := s.db.View(func(tx *bolt.Tx) error {
		b := profileBucketView(tx, profile, subBucketTools)
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var tool types.Tool
			if err := json.Unmarshal(v, &tool); err != nil {
				return err
			}
			tools = append(tools, &tool)
			return nil
		})
	})
	if err != nil {
		return nil, corrupt("ListTools", err)
	}
	return tools, nil
}

func (s *BoltStore) DeleteTool(profile, key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := profileBucket(tx, profile, subBucketTools)
		if err != nil {
			return err
		}
		return b.Delete([]byte(key))
	})
}

// --- Subscriptions ---

func subscriptionKey(subscriberIdentity, sharedFolderPath string) []byte {
	return []byte(subscriberIdentity + "|" + sharedFolderPath)
}

func (s *BoltStore) PutSubscription(profile string, sub *types.Subscription) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := profileBucket(tx, profile, subBucketSubscriptions)
		if err != nil {
			return err
		}
		data, err := json.Marshal(sub)
		if err != nil {
			return err
		}
		return b.Put(subscriptionKey(sub.SubscriberIdentity, sub.SharedFolderPath), data)
	})
}

func (s *BoltStore) GetSubscription(profile, subscriberIdentity, sharedFolderPath string) (*types.Subscription, error) {
	var sub types.Subscription
	err := s.db.View(func(tx *bolt.Tx) error {
		b := profileBucketView(tx, profile, subBucketSubscriptions)
		if b == nil {
			return fmt.Errorf("subscription not found")
		}
		data := b.Get(subscriptionKey(subscriberIdentity, sharedFolderPath))
		if data == nil {
			return fmt.Errorf("subscription not found")
		}
		return json.Unmarshal(data, &sub)
	})
	if err != nil {
		return nil, notFound("GetSubscription", err)
	}
	return &sub, nil
}

func (s *BoltStore) ListSubscriptions(profile string) ([]*types.Subscription, error) {
	var subs []*types.Subscription
	err := s.db.View(func(tx *bolt.Tx) error {
		b := profileBucketView(tx, profile, subBucketSubscriptions)
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var sub types.Subscription
			if err := json.Unmarshal(v, &sub); err != nil {
				return err
			}
			subs = append(subs, &sub)
			return nil
		})
	})
	if err != nil {
		return nil, corrupt("ListSubscriptions", err)
	}
	return subs, nil
}

func (s *BoltStore) DeleteSubscription(profile, subscriberIdentity, sharedFolderPath string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := profileBucket(tx, profile, subBucketSubscriptions)
		if err != nil {
			return err
		}
		return b.Delete(subscriptionKey(subscriberIdentity, sharedFolderPath))
	})
}

// --- Identity cache ---

func (s *BoltStore) PutCachedIdentity(ri *types.ResolvedIdentity) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketIdentityCache)
		data, err := json.Marshal(ri)
		if err != nil {
			return err
		}
		return b.Put([]byte(ri.Name), data)
	})
}

func (s *BoltStore) GetCachedIdentity(name string) (*types.ResolvedIdentity, error) {
	var ri types.ResolvedIdentity
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketIdentityCache)
		data := b.Get([]byte(name))
		if data == nil {
			return fmt.Errorf("identity %s not cached", name)
		}
		return json.Unmarshal(data, &ri)
	})
	if err != nil {
		return nil, notFound("GetCachedIdentity", err)
	}
	return &ri, nil
}

func (s *BoltStore) DeleteCachedIdentity(name string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketIdentityCache)
		return b.Delete([]byte(name))
	})
}

// --- Vector filesystem resources ---

func (s *BoltStore) PutVectorResource(profile string, path types.FSPath, vr *types.VectorResource) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := profileBucket(tx, profile, subBucketVFSResources)
		if err != nil {
			return err
		}
		data, err := json.Marshal(vr)
		if err != nil {
			return err
		}
		return b.Put([]byte(path.String()), data)
	})
}

func (s *BoltStore) GetVectorResource(profile string, path types.FSPath) (*types.VectorResource, error) {
	var vr types.VectorResource
	err := s.db.View(func(tx *bolt.Tx) error {
		b := profileBucketView(tx, profile, subBucketVFSResources)
		if b == nil {
			return fmt.Errorf("resource %s not found", path)
		}
		data := b.Get([]byte(path.String()))
		if data == nil {
			return fmt.Errorf("resource %s not found", path)
		}
		return json.Unmarshal(data, &vr)
	})
	if err != nil {
		return nil, notFound("GetVectorResource", err)
	}
	return &vr, nil
}

func (s *BoltStore) ListVectorResources(profile string) (map[string]*types.VectorResource, error) {
	resources := make(map[string]*types.VectorResource)
	err := s.db.View(func(tx *bolt.Tx) error {
		b := profileBucketView(tx, profile, subBucketVFSResources)
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var vr types.VectorResource
			if err := json.Unmarshal(v, &vr); err != nil {
				return err
			}
			resources[string(k)] = &vr
			return nil
		})
	})
	if err != nil {
		return nil, corrupt("ListVectorResources", err)
	}
	return resources, nil
}

func (s *BoltStore) DeleteVectorResource(profile string, path types.FSPath) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := profileBucket(tx, profile, subBucketVFSResources)
		if err != nil {
			return err
		}
		return b.Delete([]byte(path.String()))
	})
}

// --- Shared folder manifests ---

func (s *BoltStore) PutSharedFolder(profile string, info *types.SharedFolderInfo) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := profileBucket(tx, profile, subBucketSharedFolders)
		if err != nil {
			return err
		}
		data, err := json.Marshal(info)
		if err != nil {
			return err
		}
		return b.Put([]byte(info.Path), data)
	})
}

func (s *BoltStore) GetSharedFolder(profile, path string) (*types.SharedFolderInfo, error) {
	var info types.SharedFolderInfo
	err := s.db.View(func(tx *bolt.Tx) error {
		b := profileBucketView(tx, profile, subBucketSharedFolders)
		if b == nil {
			return fmt.Errorf("shared folder %s not found", path)
		}
		data := b.Get([]byte(path))
		if data == nil {
			return fmt.Errorf("shared folder %s not found", path)
		}
		return json.Unmarshal(data, &info)
	})
	if err != nil {
		return nil, notFound("GetSharedFolder", err)
	}
	return &info, nil
}

func (s *BoltStore) ListSharedFolders(profile string) ([]*types.SharedFolderInfo, error) {
	var folders []*types.SharedFolderInfo
	err := s.db.View(func(tx *bolt.Tx) error {
		b := profileBucketView(tx, profile, subBucketSharedFolders)
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var info types.SharedFolderInfo
			if err := json.Unmarshal(v, &info); err != nil {
				return err
			}
			folders = append(folders, &info)
			return nil
		})
	})
	if err != nil {
		return nil, corrupt("ListSharedFolders", err)
	}
	return folders, nil
}

func (s *BoltStore) DeleteSharedFolder(profile, path string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := profileBucket(tx, profile, subBucketSharedFolders)
		if err != nil {
			return err
		}
		return b.Delete([]byte(path))
	})
}

// --- Per-job message queue ---

func (s *BoltStore) EnqueueJobMessage(profile string, entry *types.JobQueueEntry) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		parent, err := profileBucket(tx, profile, subBucketJobQueue)
		if err != nil {
			return err
		}
		jb, err := parent.CreateBucketIfNotExists([]byte(entry.JobID))
		if err != nil {
			return err
		}
		data, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		return jb.Put([]byte(entry.MessageHash), data)
	})
}

func (s *BoltStore) ListJobQueue(profile, jobID string) ([]*types.JobQueueEntry, error) {
	var entries []*types.JobQueueEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		parent := profileBucketView(tx, profile, subBucketJobQueue)
		if parent == nil {
			return nil
		}
		jb := parent.Bucket([]byte(jobID))
		if jb == nil {
			return nil
		}
		return jb.ForEach(func(k, v []byte) error {
			var entry types.JobQueueEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return err
			}
			entries = append(entries, &entry)
			return nil
		})
	})
	if err != nil {
		return nil, corrupt("ListJobQueue", err)
	}
	return entries, nil
}

func (s *BoltStore) DeleteJobQueueEntry(profile, jobID, messageHash string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		parent, err := profileBucket(tx, profile, subBucketJobQueue)
		if err != nil {
			return err
		}
		jb, err := parent.CreateBucketIfNotExists([]byte(jobID))
		if err != nil {
			return err
		}
		return jb.Delete([]byte(messageHash))
	})
}

// --- Outbound retry queue ---

func (s *BoltStore) EnqueueRetry(entry *types.RetryQueueEntry) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRetryQueue)
		data, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		return b.Put([]byte(entry.ID), data)
	})
}

func (s *BoltStore) ListDueRetries(before time.Time) ([]*types.RetryQueueEntry, error) {
	var due []*types.RetryQueueEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRetryQueue)
		return b.ForEach(func(k, v []byte) error {
			var entry types.RetryQueueEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return err
			}
			if !entry.DueAt.After(before) {
				due = append(due, &entry)
			}
			return nil
		})
	})
	if err != nil {
		return nil, corrupt("ListDueRetries", err)
	}
	return due, nil
}

func (s *BoltStore) DeleteRetryEntry(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRetryQueue)
		return b.Delete([]byte(id))
	})
}

// --- Inbox history ---

func (s *BoltStore) PutInboxMessage(inbox, hash string, env *types.Envelope) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		parent := tx.Bucket(bucketInbox)
		ib, err := parent.CreateBucketIfNotExists([]byte(inbox))
		if err != nil {
			return err
		}
		data, err := json.Marshal(env)
		if err != nil {
			return err
		}
		return ib.Put([]byte(hash), data)
	})
}

func (s *BoltStore) HasInboxMessage(inbox, hash string) (bool, error) {
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		parent := tx.Bucket(bucketInbox)
		ib := parent.Bucket([]byte(inbox))
		if ib == nil {
			return nil
		}
		found = ib.Get([]byte(hash)) != nil
		return nil
	})
	if err != nil {
		return false, ioErr("HasInboxMessage", err)
	}
	return found, nil
}

func (s *BoltStore) ListInbox(inbox string) ([]*types.Envelope, error) {
	var envelopes []*types.Envelope
	err := s.db.View(func(tx *bolt.Tx) error {
		parent := tx.Bucket(bucketInbox)
		ib := parent.Bucket([]byte(inbox))
		if ib == nil {
			return nil
		}
		return ib.ForEach(func(k, v []byte) error {
			var env types.Envelope
			if err := json.Unmarshal(v, &env); err != nil {
				return err
			}
			envelopes = append(envelopes, &env)
			return nil
		})
	})
	if err != nil {
		return nil, corrupt("ListInbox", err)
	}
	return envelopes, nil
}

// --- Batch ---

// Batch wraps one open write transaction so a caller can touch several
// entity kinds atomically. Obtain one via Store.Batch.
type Batch struct {
	tx *bolt.Tx
}

func (s *BoltStore) Batch(fn func(b *Batch) error) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return fn(&Batch{tx: tx})
	})
}

func (b *Batch) PutJob(profile string, job *types.Job) error {
	pb, err := profileBucket(b.tx, profile, subBucketJobs)
	if err != nil {
		return err
	}
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return pb.Put([]byte(job.ID), data)
}

func (b *Batch) DeleteJobQueueEntry(profile, jobID, messageHash string) error {
	parent, err := profileBucket(b.tx, profile, subBucketJobQueue)
	if err != nil {
		return err
	}
	jb, err := parent.CreateBucketIfNotExists([]byte(jobID))
	if err != nil {
		return err
	}
	return jb.Delete([]byte(messageHash))
}

func (b *Batch) EnqueueRetry(entry *types.RetryQueueEntry) error {
	rb := b.tx.Bucket(bucketRetryQueue)
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return rb.Put([]byte(entry.ID), data)
}

func (b *Batch) DeleteRetryEntry(id string) error {
	rb := b.tx.Bucket(bucketRetryQueue)
	return rb.Delete([]byte(id))
}

func (b *Batch) PutInboxMessage(inbox, hash string, env *types.Envelope) error {
	parent := b.tx.Bucket(bucketInbox)
	ib, err := parent.CreateBucketIfNotExists([]byte(inbox))
	if err != nil {
		return err
	}
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return ib.Put([]byte(hash), data)
}
