// Package registry provides the process-wide catalog of work objects:
// readers, decoders, filters, encoders and muxers keyed by kind and id.
//
// Registration is expected before any scan or job runs. Registering while
// jobs are active is not guarded beyond the map lock.
package registry

import (
	"sort"
	"strings"
	"sync"

	"github.com/hashicorp/go-hclog"
	eErrors "github.com/mantonx/encore/internal/modules/enginemodule/errors"
	"github.com/mantonx/encore/internal/modules/enginemodule/types"
)

type key struct {
	kind types.Kind
	id   string
}

// Registry maps (kind, id) to a registered work object.
type Registry struct {
	objects map[key]types.WorkObject
	mutex   sync.RWMutex
	logger  hclog.Logger
}

// New creates an empty registry.
func New(logger hclog.Logger) *Registry {
	return &Registry{
		objects: make(map[key]types.WorkObject),
		logger:  logger.Named("registry"),
	}
}

var (
	defaultOnce     sync.Once
	defaultRegistry *Registry
)

// Default returns the process-wide registry.
func Default() *Registry {
	defaultOnce.Do(func() {
		defaultRegistry = New(hclog.NewNullLogger())
	})
	return defaultRegistry
}

// SetLogger replaces the registry's logger.
func (r *Registry) SetLogger(logger hclog.Logger) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.logger = logger.Named("registry")
}

// Register adds or replaces the entry for the object's kind and id.
func (r *Registry) Register(obj types.WorkObject) error {
	info := obj.Info()
	if info.ID == "" || info.Kind == "" {
		return eErrors.RegistryError("register", eErrors.ErrInvalidInput).
			WithDetail("id", info.ID).
			WithDetail("kind", info.Kind)
	}
	switch info.Kind {
	case types.KindReader:
		if _, ok := obj.(types.ReaderObject); !ok {
			return eErrors.RegistryError("register", eErrors.ErrInvalidInput).WithDetail("id", info.ID)
		}
	default:
		if _, ok := obj.(types.StageObject); !ok {
			return eErrors.RegistryError("register", eErrors.ErrInvalidInput).WithDetail("id", info.ID)
		}
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()
	k := key{info.Kind, info.ID}
	_, replaced := r.objects[k]
	r.objects[k] = obj

	r.logger.Debug("registered work object",
		"kind", info.Kind,
		"id", info.ID,
		"name", info.Name,
		"replaced", replaced)
	return nil
}

// Get returns the object registered under kind and id.
func (r *Registry) Get(kind types.Kind, id string) (types.WorkObject, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	obj, ok := r.objects[key{kind, id}]
	if !ok {
		return nil, eErrors.RegistryError("get", eErrors.ErrWorkObjectNotFound).
			WithDetail("kind", kind).
			WithDetail("id", id)
	}
	return obj, nil
}

// List returns the infos of all objects of a kind ordered by Order, then id.
func (r *Registry) List(kind types.Kind) []types.Info {
	objs := r.byKind(kind)
	infos := make([]types.Info, 0, len(objs))
	for _, o := range objs {
		infos = append(infos, o.Info())
	}
	return infos
}

// NewStage instantiates the stage registered under kind and id.
func (r *Registry) NewStage(kind types.Kind, id string) (types.Stage, types.Info, error) {
	obj, err := r.Get(kind, id)
	if err != nil {
		return nil, types.Info{}, err
	}
	so := obj.(types.StageObject)
	return so.NewStage(), so.Info(), nil
}

// ReaderFor returns a new reader from the first reader object, in Order,
// that accepts path.
func (r *Registry) ReaderFor(path string) (types.Reader, types.Info, error) {
	for _, obj := range r.byKind(types.KindReader) {
		ro := obj.(types.ReaderObject)
		if ro.CanRead(path) {
			return ro.NewReader(), ro.Info(), nil
		}
	}
	return nil, types.Info{}, eErrors.RegistryError("reader_for", eErrors.ErrNoReader).WithDetail("path", path)
}

// ReaderByID returns a new reader from the reader object with the given id.
func (r *Registry) ReaderByID(id string) (types.Reader, error) {
	obj, err := r.Get(types.KindReader, id)
	if err != nil {
		return nil, err
	}
	return obj.(types.ReaderObject).NewReader(), nil
}

// DecoderFor selects a decoder accepting codec. Hardware decoders win when
// hardware is true; otherwise they are skipped.
func (r *Registry) DecoderFor(codec string, hardware bool) (types.StageObject, error) {
	var software types.StageObject
	for _, obj := range r.byKind(types.KindDecoder) {
		info := obj.Info()
		if !accepts(info, codec) {
			continue
		}
		if info.Hardware {
			if hardware {
				return obj.(types.StageObject), nil
			}
			continue
		}
		if software == nil {
			software = obj.(types.StageObject)
		}
	}
	if software == nil {
		return nil, eErrors.RegistryError("decoder_for", eErrors.ErrWorkObjectNotFound).
			WithDetail("codec", codec)
	}
	return software, nil
}

// FilterOrder returns the canonical chain position of a filter id.
func (r *Registry) FilterOrder(id string) (int, error) {
	obj, err := r.Get(types.KindFilter, id)
	if err != nil {
		return 0, err
	}
	return obj.Info().Order, nil
}

// Count returns the number of registered objects.
func (r *Registry) Count() int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return len(r.objects)
}

// Clear removes all objects from the registry.
// This is primarily useful for testing.
func (r *Registry) Clear() {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.objects = make(map[key]types.WorkObject)
	r.logger.Debug("cleared all work objects from registry")
}

func (r *Registry) byKind(kind types.Kind) []types.WorkObject {
	r.mutex.RLock()
	objs := make([]types.WorkObject, 0, len(r.objects))
	for k, o := range r.objects {
		if k.kind == kind {
			objs = append(objs, o)
		}
	}
	r.mutex.RUnlock()

	sort.Slice(objs, func(i, j int) bool {
		a, b := objs[i].Info(), objs[j].Info()
		if a.Order != b.Order {
			return a.Order < b.Order
		}
		return a.ID < b.ID
	})
	return objs
}

func accepts(info types.Info, codec string) bool {
	for _, c := range info.Codecs {
		if c == "*" || strings.EqualFold(c, codec) {
			return true
		}
	}
	return false
}
