package secret

import (
	"slices"
	"sort"
	"sync"
)

// FieldRef locates the encrypted value behind a field slot: either a stored
// record by id or an inline record carried by the entity itself.
type FieldRef struct {
	RecordID string
	Inline   *EncryptedRecord
}

// Empty reports whether the slot holds nothing to decrypt.
func (r FieldRef) Empty() bool {
	return r.RecordID == "" && r.Inline == nil
}

// FieldDescriptor describes one encrypted slot of a domain entity.
type FieldDescriptor struct {
	Name string
	Ref  func() FieldRef
	Set  func(plaintext []byte)
}

// Decryptable is implemented by domain objects whose encrypted fields the
// secret store can populate.
type Decryptable interface {
	TenantID() string
	EncryptedFields() []FieldDescriptor
	IsDecrypted() bool
	SetDecrypted(bool)
}

// FieldSet is a map-backed Decryptable. Refs maps field names to record ids;
// decrypted values land in Values.
type FieldSet struct {
	Tenant string
	Refs   map[string]string

	mu        sync.RWMutex
	values    map[string][]byte
	decrypted bool
}

// NewFieldSet builds a FieldSet for a tenant.
func NewFieldSet(tenantID string, refs map[string]string) *FieldSet {
	return &FieldSet{Tenant: tenantID, Refs: refs, values: make(map[string][]byte)}
}

func (f *FieldSet) TenantID() string { return f.Tenant }

// EncryptedFields returns one descriptor per ref, sorted by field name.
func (f *FieldSet) EncryptedFields() []FieldDescriptor {
	names := make([]string, 0, len(f.Refs))
	for name := range f.Refs {
		names = append(names, name)
	}
	sort.Strings(names)

	fields := make([]FieldDescriptor, 0, len(names))
	for _, name := range names {
		fields = append(fields, FieldDescriptor{
			Name: name,
			Ref:  func() FieldRef { return FieldRef{RecordID: f.Refs[name]} },
			Set: func(plaintext []byte) {
				f.mu.Lock()
				defer f.mu.Unlock()
				if f.values == nil {
					f.values = make(map[string][]byte)
				}
				f.values[name] = slices.Clone(plaintext)
			},
		})
	}
	return fields
}

// Field returns a descriptor by name.
func (f *FieldSet) Field(name string) (FieldDescriptor, bool) {
	for _, fd := range f.EncryptedFields() {
		if fd.Name == name {
			return fd, true
		}
	}
	return FieldDescriptor{}, false
}

// Value returns the decrypted value of a field.
func (f *FieldSet) Value(name string) (string, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	v, ok := f.values[name]
	return string(v), ok
}

func (f *FieldSet) IsDecrypted() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.decrypted
}

func (f *FieldSet) SetDecrypted(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.decrypted = v
}
