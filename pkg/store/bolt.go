package store

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"

	bolt "go.etcd.io/bbolt"

	"github.com/tidecraft/ballast/pkg/types"
)

var (
	// Bucket names
	bucketWorkloads = []byte("workloads")
	bucketServices  = []byte("services")
	bucketFragments = []byte("config_fragments")
	bucketClaims    = []byte("volume_claims")
	bucketPools     = []byte("volume_pools")
	bucketInstances = []byte("instances")
)

// BoltStore implements Store using BoltDB
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore creates a new BoltDB-backed store
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "ballast.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketWorkloads,
			bucketServices,
			bucketFragments,
			bucketClaims,
			bucketPools,
			bucketInstances,
		}

		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})

	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// put marshals v as JSON under key in bucket (upsert)
func (s *BoltStore) put(bucket []byte, key string, v interface{}) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		return b.Put([]byte(key), data)
	})
}

// get unmarshals the value under key in bucket into v
func (s *BoltStore) get(bucket []byte, key string, v interface{}) error {
	return s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		data := b.Get([]byte(key))
		if data == nil {
			return fmt.Errorf("%s %s: %w", bucket, key, ErrNotFound)
		}
		return json.Unmarshal(data, v)
	})
}

// delete removes key from bucket; deleting a missing key is not an error
func (s *BoltStore) delete(bucket []byte, key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).Delete([]byte(key))
	})
}

// Workload operations

func (s *BoltStore) UpsertWorkload(w *types.Workload) error {
	return s.put(bucketWorkloads, w.Name, w)
}

func (s *BoltStore) GetWorkload(name string) (*types.Workload, error) {
	var w types.Workload
	if err := s.get(bucketWorkloads, name, &w); err != nil {
		return nil, err
	}
	return &w, nil
}

func (s *BoltStore) ListWorkloads() ([]*types.Workload, error) {
	var workloads []*types.Workload
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketWorkloads).ForEach(func(k, v []byte) error {
			var w types.Workload
			if err := json.Unmarshal(v, &w); err != nil {
				return err
			}
			workloads = append(workloads, &w)
			return nil
		})
	})
	return workloads, err
}

func (s *BoltStore) DeleteWorkload(name string) error {
	return s.delete(bucketWorkloads, name)
}

// Service operations

func (s *BoltStore) UpsertService(svc *types.Service) error {
	return s.put(bucketServices, svc.Name, svc)
}

func (s *BoltStore) GetService(name string) (*types.Service, error) {
	var svc types.Service
	if err := s.get(bucketServices, name, &svc); err != nil {
		return nil, err
	}
	return &svc, nil
}

func (s *BoltStore) ListServices() ([]*types.Service, error) {
	var services []*types.Service
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketServices).ForEach(func(k, v []byte) error {
			var svc types.Service
			if err := json.Unmarshal(v, &svc); err != nil {
				return err
			}
			services = append(services, &svc)
			return nil
		})
	})
	return services, err
}

func (s *BoltStore) DeleteService(name string) error {
	return s.delete(bucketServices, name)
}

// Config fragment operations

func (s *BoltStore) UpsertConfigFragment(f *types.ConfigFragment) error {
	return s.put(bucketFragments, f.Name, f)
}

func (s *BoltStore) GetConfigFragment(name string) (*types.ConfigFragment, error) {
	var f types.ConfigFragment
	if err := s.get(bucketFragments, name, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

func (s *BoltStore) ListConfigFragments() ([]*types.ConfigFragment, error) {
	var fragments []*types.ConfigFragment
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketFragments).ForEach(func(k, v []byte) error {
			var f types.ConfigFragment
			if err := json.Unmarshal(v, &f); err != nil {
				return err
			}
			fragments = append(fragments, &f)
			return nil
		})
	})
	return fragments, err
}

func (s *BoltStore) ListConfigFragmentsByNamespace(namespace string) ([]*types.ConfigFragment, error) {
	all, err := s.ListConfigFragments()
	if err != nil {
		return nil, err
	}
	var fragments []*types.ConfigFragment
	for _, f := range all {
		if f.Namespace == namespace {
			fragments = append(fragments, f)
		}
	}
	return fragments, nil
}

func (s *BoltStore) DeleteConfigFragment(name string) error {
	return s.delete(bucketFragments, name)
}

// Volume claim operations

func (s *BoltStore) UpsertVolumeClaim(c *types.VolumeClaim) error {
	return s.put(bucketClaims, c.Name, c)
}

func (s *BoltStore) GetVolumeClaim(name string) (*types.VolumeClaim, error) {
	var c types.VolumeClaim
	if err := s.get(bucketClaims, name, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *BoltStore) ListVolumeClaims() ([]*types.VolumeClaim, error) {
	var claims []*types.VolumeClaim
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketClaims).ForEach(func(k, v []byte) error {
			var c types.VolumeClaim
			if err := json.Unmarshal(v, &c); err != nil {
				return err
			}
			claims = append(claims, &c)
			return nil
		})
	})
	return claims, err
}

func (s *BoltStore) DeleteVolumeClaim(name string) error {
	return s.delete(bucketClaims, name)
}

// Volume pool operations

func (s *BoltStore) UpsertVolumePool(p *types.VolumePool) error {
	return s.put(bucketPools, p.Name, p)
}

func (s *BoltStore) GetVolumePool(name string) (*types.VolumePool, error) {
	var p types.VolumePool
	if err := s.get(bucketPools, name, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *BoltStore) ListVolumePools() ([]*types.VolumePool, error) {
	var pools []*types.VolumePool
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPools).ForEach(func(k, v []byte) error {
			var p types.VolumePool
			if err := json.Unmarshal(v, &p); err != nil {
				return err
			}
			pools = append(pools, &p)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	// Declaration order: oldest first, name as tiebreak
	sort.Slice(pools, func(i, j int) bool {
		if pools[i].CreatedAt.Equal(pools[j].CreatedAt) {
			return pools[i].Name < pools[j].Name
		}
		return pools[i].CreatedAt.Before(pools[j].CreatedAt)
	})
	return pools, nil
}

func (s *BoltStore) DeleteVolumePool(name string) error {
	return s.delete(bucketPools, name)
}

// Instance operations

func (s *BoltStore) CreateInstance(inst *types.Instance) error {
	return s.put(bucketInstances, inst.ID, inst)
}

func (s *BoltStore) GetInstance(id string) (*types.Instance, error) {
	var inst types.Instance
	if err := s.get(bucketInstances, id, &inst); err != nil {
		return nil, err
	}
	return &inst, nil
}

func (s *BoltStore) ListInstances() ([]*types.Instance, error) {
	var instances []*types.Instance
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketInstances).ForEach(func(k, v []byte) error {
			var inst types.Instance
			if err := json.Unmarshal(v, &inst); err != nil {
				return err
			}
			instances = append(instances, &inst)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(instances, func(i, j int) bool {
		if instances[i].CreatedAt.Equal(instances[j].CreatedAt) {
			return instances[i].ID < instances[j].ID
		}
		return instances[i].CreatedAt.Before(instances[j].CreatedAt)
	})
	return instances, nil
}

func (s *BoltStore) ListInstancesByWorkload(workloadName string) ([]*types.Instance, error) {
	all, err := s.ListInstances()
	if err != nil {
		return nil, err
	}
	var instances []*types.Instance
	for _, inst := range all {
		if inst.WorkloadName == workloadName {
			instances = append(instances, inst)
		}
	}
	return instances, nil
}

func (s *BoltStore) UpdateInstance(inst *types.Instance) error {
	return s.CreateInstance(inst) // Same as create (upsert)
}

func (s *BoltStore) DeleteInstance(id string) error {
	return s.delete(bucketInstances, id)
}
