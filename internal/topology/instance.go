package topology

import (
	"encoding/json"
	"strconv"
	"sync"
	"time"
)

// InstanceRecord is the persisted form of an Instance
type InstanceRecord struct {
	NodeName         string           `json:"nodeName" yaml:"nodeName"`
	Name             string           `json:"name" yaml:"name"`
	Domain           string           `json:"domain" yaml:"domain"`
	HostName         string           `json:"hostName,omitempty" yaml:"hostName,omitempty"`
	Port             int              `json:"port" yaml:"port"`
	AddTime          time.Time        `json:"addTime" yaml:"addTime,omitempty"`
	LastModifyTime   time.Time        `json:"lastModifyTime" yaml:"lastModifyTime,omitempty"`
	Status           InstanceStatus   `json:"status" yaml:"status"`
	MSStatus         Role             `json:"msStatus" yaml:"msStatus"`
	ReplicationState ReplicationState `json:"replicationState" yaml:"replicationState,omitempty"`
	Priority         int              `json:"priority" yaml:"priority,omitempty"`
}

func (r *InstanceRecord) applyDefaults() {
	if r.Status == "" {
		r.Status = InstanceActive
	}
	if r.MSStatus == "" {
		r.MSStatus = RoleMaster
	}
	if r.ReplicationState == "" {
		r.ReplicationState = ReplicationInitial
	}
}

// Endpoint returns the "domain:port" key of the record
func (r InstanceRecord) Endpoint() string {
	return r.Domain + ":" + strconv.Itoa(r.Port)
}

// Instance is one physical replica endpoint inside a Node. Scalar fields are
// mutated in place by topology events, so access goes through the accessors.
type Instance struct {
	mu  sync.RWMutex
	rec InstanceRecord
}

// NewInstance creates an instance from its record
func NewInstance(rec InstanceRecord) *Instance {
	rec.applyDefaults()
	return &Instance{rec: rec}
}

// Record returns a copy of the instance fields
func (i *Instance) Record() InstanceRecord {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.rec
}

// Update mutates the instance fields under the write lock
func (i *Instance) Update(fn func(r *InstanceRecord)) {
	i.mu.Lock()
	defer i.mu.Unlock()
	fn(&i.rec)
}

func (i *Instance) Name() string {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.rec.Name
}

func (i *Instance) NodeName() string {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.rec.NodeName
}

func (i *Instance) Status() InstanceStatus {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.rec.Status
}

func (i *Instance) Role() Role {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.rec.MSStatus
}

// Endpoint returns the "domain:port" key into the connection pool registry
func (i *Instance) Endpoint() string {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.rec.Endpoint()
}

// IsAlive reports whether the instance is not DELETED
func (i *Instance) IsAlive() bool {
	return i.Status() != InstanceDeleted
}

func (i *Instance) IsMaster() bool {
	r := i.Role()
	return r == RoleMaster || r == RoleAll
}

func (i *Instance) IsSlave() bool {
	r := i.Role()
	return r == RoleSlave || r == RoleAll
}

func (i *Instance) String() string {
	rec := i.Record()
	return rec.NodeName + "/" + rec.Name + "@" + rec.Endpoint() + "(" + string(rec.MSStatus) + "," + string(rec.Status) + ")"
}

func (i *Instance) MarshalJSON() ([]byte, error) {
	return json.Marshal(i.Record())
}

func (i *Instance) UnmarshalJSON(data []byte) error {
	var rec InstanceRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return err
	}
	rec.applyDefaults()
	i.mu.Lock()
	i.rec = rec
	i.mu.Unlock()
	return nil
}
