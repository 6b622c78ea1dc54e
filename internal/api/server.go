package api

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/labstack/echo/v5"
	"golang.org/x/sync/semaphore"

	"github.com/samcharles93/hybridlm/internal/inference"
	"github.com/samcharles93/hybridlm/internal/logger"
	"github.com/samcharles93/hybridlm/internal/model"
	"github.com/samcharles93/hybridlm/internal/tensor"
)

// Options tunes a Server.
type Options struct {
	// MaxConcurrent bounds forward passes running at once across all
	// sessions. Zero means unbounded.
	MaxConcurrent int64
	// MaxSessions bounds live sessions. Zero means unlimited.
	MaxSessions int
	Log         logger.Logger
}

// Server exposes a model over HTTP. Each session owns a cache; calls on
// one session are serialised, calls on different sessions may overlap.
type Server struct {
	model *model.Model
	store *SessionStore
	sem   *semaphore.Weighted
	log   logger.Logger
	now   func() time.Time
}

func NewServer(m *model.Model, opts Options) *Server {
	s := &Server{
		model: m,
		store: NewSessionStore(opts.MaxSessions),
		log:   opts.Log,
		now:   time.Now,
	}
	if s.log == nil {
		s.log = logger.Discard()
	}
	if opts.MaxConcurrent > 0 {
		s.sem = semaphore.NewWeighted(opts.MaxConcurrent)
	}
	return s
}

func (s *Server) Register(e *echo.Echo) {
	e.GET("/v1/model", s.handleModel)
	e.POST("/v1/forward", s.handleForward)
	e.POST("/v1/sessions", s.handleCreateSession)
	e.GET("/v1/sessions/:id", s.handleGetSession)
	e.POST("/v1/sessions/:id/forward", s.handleSessionForward)
	e.DELETE("/v1/sessions/:id", s.handleDeleteSession)
}

func (s *Server) handleModel(c *echo.Context) error {
	cfg := s.model.Config()
	kv := s.model.KVHeads()
	layers := s.model.Layers()
	info := ModelInfo{
		Pattern:   s.model.Pattern().String(),
		VocabSize: s.model.VocabularySize(),
		Params:    s.model.Params(),
		KVHeads:   kv,
		Layers:    make([]LayerInfo, len(layers)),
		Config:    cfg,
	}
	for i := range layers {
		info.Layers[i] = LayerInfo{
			Index:   i,
			Type:    layers[i].Type.String(),
			KVHeads: kv[i],
			Params:  layers[i].Block.Params(),
		}
	}
	return c.JSON(http.StatusOK, info)
}

func (s *Server) handleForward(c *echo.Context) error {
	req, err := decodeJSON[ForwardRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	release, err := s.acquire(c)
	if err != nil {
		return writeAPIError(c, err)
	}
	defer release()

	out, err := s.model.Forward(req.Tokens, nil)
	if err != nil {
		return writeAPIError(c, err)
	}
	return c.JSON(http.StatusOK, forwardResponse(out, req.ReturnLogits))
}

func (s *Server) handleCreateSession(c *echo.Context) error {
	var req CreateSessionRequest
	if c.Request().ContentLength != 0 {
		r, err := decodeJSON[CreateSessionRequest](c.Request().Body)
		if err != nil && !errors.Is(err, io.EOF) {
			return writeBadRequest(c, err.Error())
		}
		req = r
	}
	dtype, err := tensor.ParseDType(req.KVDType)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	if req.KVCapacity < 0 || req.Batch < 0 {
		return writeAPIError(c, newInvalidRequest("kv_capacity and batch must not be negative, got %d and %d", req.KVCapacity, req.Batch))
	}

	sess := inference.NewSession(s.model,
		model.WithKVDType(dtype),
		model.WithKVCapacity(req.KVCapacity),
		model.WithBatch(req.Batch),
	)
	rec, err := s.store.add(sess, dtype, s.now())
	if err != nil {
		return writeAPIError(c, err)
	}
	s.log.Info("session created", "id", rec.id, "kv_dtype", dtype.String())
	return c.JSON(http.StatusOK, sessionInfo(rec))
}

func (s *Server) handleGetSession(c *echo.Context) error {
	rec, err := s.store.get(c.Param("id"))
	if err != nil {
		return writeAPIError(c, err)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return c.JSON(http.StatusOK, sessionInfo(rec))
}

func (s *Server) handleSessionForward(c *echo.Context) error {
	rec, err := s.store.get(c.Param("id"))
	if err != nil {
		return writeAPIError(c, err)
	}
	req, err := decodeJSON[ForwardRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	release, err := s.acquire(c)
	if err != nil {
		return writeAPIError(c, err)
	}
	defer release()

	rec.mu.Lock()
	defer rec.mu.Unlock()
	out, err := rec.sess.Forward(req.Tokens)
	if err != nil {
		return writeAPIError(c, err)
	}
	resp := forwardResponse(out, req.ReturnLogits)
	resp.SessionID = rec.id
	resp.Length = rec.sess.Len()
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleDeleteSession(c *echo.Context) error {
	id := c.Param("id")
	if !s.store.delete(id) {
		return writeAPIError(c, notFoundError{id: id})
	}
	s.log.Info("session deleted", "id", id)
	return c.JSON(http.StatusOK, DeleteResponse{ID: id, Deleted: true})
}

// acquire takes a slot from the concurrency bound, if any.
func (s *Server) acquire(c *echo.Context) (func(), error) {
	if s.sem == nil {
		return func() {}, nil
	}
	if err := s.sem.Acquire(c.Request().Context(), 1); err != nil {
		return nil, ErrBusy
	}
	return func() { s.sem.Release(1) }, nil
}

func forwardResponse(out *tensor.Tensor, withLogits bool) ForwardResponse {
	batch, seq := out.Dim(0), out.Dim(1)
	resp := ForwardResponse{
		Shape: append([]int(nil), out.Shape...),
		Next:  make([]int, batch),
	}
	for b := range batch {
		resp.Next[b] = tensor.Argmax(out.At(b, seq-1))
	}
	if withLogits {
		resp.Logits = make([][][]float32, batch)
		for b := range batch {
			resp.Logits[b] = make([][]float32, seq)
			for t := range seq {
				resp.Logits[b][t] = out.At(b, t)
			}
		}
	}
	return resp
}

func sessionInfo(rec *session) SessionInfo {
	cache := rec.sess.Cache()
	info := SessionInfo{
		ID:         rec.id,
		CreatedAt:  rec.createdAt.Unix(),
		Length:     rec.sess.Len(),
		Batch:      rec.sess.Batch(),
		KVDType:    rec.kvDType.String(),
		CacheBytes: cache.Bytes(),
	}
	for i, e := range cache {
		if e == nil {
			continue
		}
		info.Slots = append(info.Slots, SlotInfo{Layer: i, Kind: e.Kind().String(), Bytes: e.Bytes()})
	}
	return info
}

func decodeJSON[T any](r io.Reader) (T, error) {
	var out T
	dec := json.NewDecoder(r)
	if err := dec.Decode(&out); err != nil {
		return out, err
	}
	return out, nil
}

func writeBadRequest(c *echo.Context, msg string) error {
	return writeError(c, http.StatusBadRequest, "invalid_request_error", msg)
}

func writeError(c *echo.Context, status int, errType, msg string) error {
	return c.JSON(status, map[string]any{
		"error": ErrorBody{Message: msg, Type: errType},
	})
}

// writeAPIError maps package and model errors to HTTP statuses.
func writeAPIError(c *echo.Context, err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return writeError(c, http.StatusNotFound, "not_found_error", err.Error())
	case errors.Is(err, ErrInvalidRequest), errors.Is(err, model.ErrInput):
		return writeError(c, http.StatusBadRequest, "invalid_request_error", err.Error())
	case errors.Is(err, model.ErrShape):
		return writeError(c, http.StatusBadRequest, "shape_error", err.Error())
	case errors.Is(err, ErrBusy):
		return writeError(c, http.StatusServiceUnavailable, "busy_error", err.Error())
	default:
		return writeError(c, http.StatusInternalServerError, "server_error", err.Error())
	}
}
