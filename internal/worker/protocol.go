package worker

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Wire discriminators. These are the message type strings the pages send
// and expect back; they are part of the external contract.
const (
	TypeCacheSet      = "CACHE_SET"
	TypeUncacheSet    = "UNCACHE_SET"
	TypeCacheProgress = "CACHE_PROGRESS"
	TypeCacheDone     = "CACHE_DONE"
	TypeCacheError    = "CACHE_ERROR"
	TypeUncacheDone   = "UNCACHE_DONE"
)

// DefaultCacheName is used when a request leaves the cache name empty.
const DefaultCacheName = "practice-cache"

// Request is a closed union: CacheSet or UncacheSet. Unknown message types
// fail at decode time instead of being silently ignored.
type Request interface{ requestType() string }

// CacheSet asks the manager to bulk-populate the named cache with urls.
type CacheSet struct {
	Cache string
	URLs  []string
}

func (CacheSet) requestType() string { return TypeCacheSet }

// UncacheSet asks the manager to drop the named cache entirely.
type UncacheSet struct {
	Cache string
}

func (UncacheSet) requestType() string { return TypeUncacheSet }

// Response is a closed union: CacheProgress, CacheDone, CacheError or
// UncacheDone.
type Response interface{ responseType() string }

// CacheProgress reports one completed fetch attempt. Done takes every value
// from 1 to Total in order; Total is fixed at job start.
type CacheProgress struct {
	Done  int
	Total int
}

func (CacheProgress) responseType() string { return TypeCacheProgress }

// CacheDone terminates a successful population job.
type CacheDone struct {
	Cache string
}

func (CacheDone) responseType() string { return TypeCacheDone }

// CacheError terminates a population job that could not run at all.
// Entries stored before the failure stay stored.
type CacheError struct {
	Error string
}

func (CacheError) responseType() string { return TypeCacheError }

// UncacheDone acknowledges an eviction.
type UncacheDone struct {
	Cache string
}

func (UncacheDone) responseType() string { return TypeUncacheDone }

type requestEnvelope struct {
	Type  string   `json:"type"`
	Cache string   `json:"cache,omitempty"`
	URLs  []string `json:"urls,omitempty"`
}

type responseEnvelope struct {
	Type  string `json:"type"`
	Cache string `json:"cache,omitempty"`
	Done  int    `json:"done,omitempty"`
	Total int    `json:"total,omitempty"`
	Error string `json:"error,omitempty"`
}

// DecodeRequest parses one request envelope.
func DecodeRequest(data []byte) (Request, error) {
	var env requestEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("worker: decode request: %w", err)
	}
	switch env.Type {
	case TypeCacheSet:
		return CacheSet{Cache: env.Cache, URLs: env.URLs}, nil
	case TypeUncacheSet:
		return UncacheSet{Cache: env.Cache}, nil
	case "":
		return nil, errors.New("worker: request has no type")
	default:
		return nil, fmt.Errorf("worker: unknown request type %q", env.Type)
	}
}

// EncodeRequest renders a request envelope.
func EncodeRequest(r Request) ([]byte, error) {
	switch req := r.(type) {
	case CacheSet:
		return json.Marshal(requestEnvelope{Type: TypeCacheSet, Cache: req.Cache, URLs: req.URLs})
	case UncacheSet:
		return json.Marshal(requestEnvelope{Type: TypeUncacheSet, Cache: req.Cache})
	default:
		return nil, fmt.Errorf("worker: unknown request %T", r)
	}
}

// EncodeResponse renders a response envelope.
func EncodeResponse(r Response) ([]byte, error) {
	switch rsp := r.(type) {
	case CacheProgress:
		// done starts at 1 and total >= 1 whenever progress is emitted.
		return json.Marshal(responseEnvelope{Type: TypeCacheProgress, Done: rsp.Done, Total: rsp.Total})
	case CacheDone:
		return json.Marshal(responseEnvelope{Type: TypeCacheDone, Cache: rsp.Cache})
	case CacheError:
		return json.Marshal(responseEnvelope{Type: TypeCacheError, Error: rsp.Error})
	case UncacheDone:
		return json.Marshal(responseEnvelope{Type: TypeUncacheDone, Cache: rsp.Cache})
	default:
		return nil, fmt.Errorf("worker: unknown response %T", r)
	}
}

// DecodeResponse parses one response envelope.
func DecodeResponse(data []byte) (Response, error) {
	var env responseEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("worker: decode response: %w", err)
	}
	switch env.Type {
	case TypeCacheProgress:
		return CacheProgress{Done: env.Done, Total: env.Total}, nil
	case TypeCacheDone:
		return CacheDone{Cache: env.Cache}, nil
	case TypeCacheError:
		return CacheError{Error: env.Error}, nil
	case TypeUncacheDone:
		return UncacheDone{Cache: env.Cache}, nil
	case "":
		return nil, errors.New("worker: response has no type")
	default:
		return nil, fmt.Errorf("worker: unknown response type %q", env.Type)
	}
}
