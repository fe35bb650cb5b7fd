package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vektah/gqlparser/v2/ast"

	"github.com/hanpama/graphcache/internal/eventbus"
	"github.com/hanpama/graphcache/internal/events"
	"github.com/hanpama/graphcache/internal/gqlselect"
	"github.com/hanpama/graphcache/internal/language"
	"github.com/hanpama/graphcache/internal/reader"
	"github.com/hanpama/graphcache/internal/record"
	"github.com/hanpama/graphcache/internal/reqid"
	"github.com/hanpama/graphcache/internal/selection"
	"github.com/hanpama/graphcache/internal/store"
)

// Handler is an http.Handler that exposes a store for inspection. Queries
// are GraphQL documents checked against the schema and run against the
// store instead of a server.
type Handler struct {
	mux      *http.ServeMux
	schema   *ast.Schema
	bus      *eventbus.Bus
	opt      Options
	upgrader websocket.Upgrader

	// mu serializes access to store, which is not safe for concurrent use.
	mu    sync.Mutex
	store *store.Store
}

type Options struct {
	// Timeout sets a default timeout if the incoming request context has none.
	// 0 means no default timeout.
	Timeout time.Duration

	// Pretty enables indented JSON responses (useful for dev).
	Pretty bool

	// MaxBodyBytes limits the size of the request body. 0 means unlimited.
	MaxBodyBytes int64

	// CORS configuration. If AllowedOrigins is empty, CORS is disabled.
	CORS CORSOptions

	// ThrowOnFieldError reports field errors and resolver errors of a read
	// in its errors list.
	ThrowOnFieldError bool

	// Bus receives HTTPStart and HTTPFinish events.
	Bus *eventbus.Bus
}

type Option func(*Options)

func WithTimeout(d time.Duration) Option { return func(o *Options) { o.Timeout = d } }
func WithPretty() Option                 { return func(o *Options) { o.Pretty = true } }
func WithMaxBodyBytes(n int64) Option    { return func(o *Options) { o.MaxBodyBytes = n } }
func WithCORS(origins ...string) Option {
	return func(o *Options) { o.CORS.AllowedOrigins = origins }
}
func WithThrowOnFieldError(enabled bool) Option {
	return func(o *Options) { o.ThrowOnFieldError = enabled }
}
func WithEventBus(b *eventbus.Bus) Option { return func(o *Options) { o.Bus = b } }

// CORSOptions holds simple CORS settings.
type CORSOptions struct {
	AllowedOrigins []string
}

// New creates a handler serving s. Queries are built against schema.
func New(s *store.Store, schema *ast.Schema, opts ...Option) *Handler {
	op := Options{Timeout: 10 * time.Second}
	for _, f := range opts {
		f(&op)
	}
	h := &Handler{mux: http.NewServeMux(), schema: schema, bus: op.Bus, opt: op, store: s}
	if len(op.CORS.AllowedOrigins) > 0 {
		h.upgrader.CheckOrigin = func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || contains(op.CORS.AllowedOrigins, "*") || contains(op.CORS.AllowedOrigins, origin)
		}
	}
	h.handle("POST /read", h.read)
	h.handle("POST /check", h.check)
	h.handle("POST /publish", h.publish)
	h.handle("POST /invalidate", h.invalidate)
	h.handle("GET /records", h.records)
	h.handle("GET /records/{id}", h.recordByID)
	h.mux.HandleFunc("GET /subscribe", h.subscribe)
	return h
}

// WithStore runs fn while holding the lock that serializes requests.
func (h *Handler) WithStore(fn func(*store.Store)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	fn(h.store)
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if len(h.opt.CORS.AllowedOrigins) > 0 {
		setCORSHeaders(w, r, h.opt.CORS)
	}
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	h.mux.ServeHTTP(w, r)
}

type handlerFunc func(ctx context.Context, r *http.Request) (status int, body any)

func (h *Handler) handle(route string, fn handlerFunc) {
	h.mux.HandleFunc(route, func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if _, ok := ctx.Deadline(); !ok && h.opt.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, h.opt.Timeout)
			defer cancel()
		}
		ctx, rid := reqid.NewContext(ctx)
		w.Header().Set("X-Request-Id", rid.String())

		status := http.StatusOK
		start := time.Now()
		eventbus.Publish(ctx, h.bus, events.HTTPStart{Route: route, Request: r})
		defer func() {
			eventbus.Publish(ctx, h.bus, events.HTTPFinish{Route: route, Request: r, Status: status, Duration: time.Since(start)})
		}()

		var body any
		status, body = fn(ctx, r)
		writeJSON(w, status, body, h.opt.Pretty)
	})
}

// ------------------ Handlers ------------------

type queryRequest struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName,omitempty"`
	Variables     map[string]any `json:"variables,omitempty"`
	// Data is the response payload written by /publish.
	Data map[string]any `json:"data,omitempty"`
}

type readResponse struct {
	Data          any             `json:"data"`
	IsMissingData bool            `json:"isMissingData"`
	SeenRecords   []string        `json:"seenRecords"`
	Errors        []responseError `json:"errors,omitempty"`
}

func (h *Handler) read(ctx context.Context, r *http.Request) (int, any) {
	_, op, rerr := h.operation(r)
	if rerr != nil {
		return bodyErrorStatus(rerr), errorResponse(rerr)
	}

	h.mu.Lock()
	snap := h.store.Lookup(op.Root)
	h.mu.Unlock()
	return http.StatusOK, h.readResponse(snap)
}

func (h *Handler) readResponse(snap *reader.Snapshot) readResponse {
	res := readResponse{Data: snap.Data, IsMissingData: snap.IsMissingData, SeenRecords: snap.SeenRecords.Sorted()}
	if err := snap.Err(reader.GlogFieldLogger, h.opt.ThrowOnFieldError); err != nil {
		res.Errors = []responseError{{Message: err.Error()}}
	}
	return res
}

type checkResponse struct {
	Status    string     `json:"status"`
	FetchTime *time.Time `json:"fetchTime,omitempty"`
}

func (h *Handler) check(ctx context.Context, r *http.Request) (int, any) {
	_, op, rerr := h.operation(r)
	if rerr != nil {
		return bodyErrorStatus(rerr), errorResponse(rerr)
	}

	h.mu.Lock()
	a := h.store.Check(ctx, op, store.CheckOptions{})
	h.mu.Unlock()

	res := checkResponse{Status: a.Status.String()}
	if !a.FetchTime.IsZero() {
		res.FetchTime = &a.FetchTime
	}
	return http.StatusOK, res
}

type publishResponse struct {
	UpdatedOwners []string `json:"updatedOwners"`
}

func (h *Handler) publish(ctx context.Context, r *http.Request) (int, any) {
	req, op, rerr := h.operation(r)
	if rerr != nil {
		return bodyErrorStatus(rerr), errorResponse(rerr)
	}
	if req.Data == nil {
		return http.StatusBadRequest, errorResponse(&language.Error{Message: "missing 'data'"})
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	owners, err := h.store.CommitPayload(ctx, op, req.Data)
	if err != nil {
		return http.StatusUnprocessableEntity, errorResponse(&language.Error{Message: err.Error()})
	}
	return http.StatusOK, publishResponse{UpdatedOwners: ownerIdentifiers(owners)}
}

type invalidateRequest struct {
	IDs   []string `json:"ids"`
	Store bool     `json:"store"`
}

func (h *Handler) invalidate(ctx context.Context, r *http.Request) (int, any) {
	body, rerr := readBody(r, h.opt.MaxBodyBytes)
	if rerr != nil {
		return bodyErrorStatus(rerr), errorResponse(rerr)
	}
	var req invalidateRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return http.StatusBadRequest, errorResponse(&language.Error{Message: "invalid JSON"})
	}
	if len(req.IDs) == 0 && !req.Store {
		return http.StatusBadRequest, errorResponse(&language.Error{Message: "nothing to invalidate"})
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.store.Publish(ctx, record.NewMapSource(), record.NewIDSet(req.IDs...))
	owners := h.store.Notify(ctx, store.NotifyOptions{InvalidateStore: req.Store})
	return http.StatusOK, publishResponse{UpdatedOwners: ownerIdentifiers(owners)}
}

func (h *Handler) records(ctx context.Context, r *http.Request) (int, any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return http.StatusOK, record.SourceToWire(h.store.Source())
}

func (h *Handler) recordByID(ctx context.Context, r *http.Request) (int, any) {
	id := r.PathValue("id")

	h.mu.Lock()
	defer h.mu.Unlock()
	src := h.store.Source()
	switch src.Status(id) {
	case record.Existent:
		return http.StatusOK, record.ToWire(src.Get(id))
	case record.Nonexistent:
		return http.StatusOK, nil
	default:
		return http.StatusNotFound, errorResponse(&language.Error{Message: "unknown record " + id})
	}
}

func ownerIdentifiers(owners []*selection.RequestDescriptor) []string {
	out := make([]string, 0, len(owners))
	for _, o := range owners {
		out = append(out, o.Identifier)
	}
	return out
}

// ------------------ Request parsing ------------------

func (h *Handler) operation(r *http.Request) (queryRequest, *selection.Operation, *language.Error) {
	body, rerr := readBody(r, h.opt.MaxBodyBytes)
	if rerr != nil {
		return queryRequest{}, nil, rerr
	}
	var req queryRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return queryRequest{}, nil, &language.Error{Message: "invalid JSON"}
	}
	op, lerr := h.buildOperation(req)
	if lerr != nil {
		return queryRequest{}, nil, lerr
	}
	return req, op, nil
}

func (h *Handler) buildOperation(req queryRequest) (*selection.Operation, *language.Error) {
	if req.Query == "" {
		return nil, &language.Error{Message: "missing 'query'"}
	}
	doc, err := gqlselect.Build(h.schema, req.Query)
	if err != nil {
		return nil, toLanguageError(err)
	}
	node, err := doc.Operation(req.OperationName)
	if err != nil {
		return nil, toLanguageError(err)
	}
	return selection.NewOperation(node, req.Variables, nil), nil
}

func readBody(r *http.Request, maxBody int64) ([]byte, *language.Error) {
	ct := r.Header.Get("Content-Type")
	if ct != "" && ct != "application/json" && !strings.HasPrefix(ct, "application/json;") {
		return nil, &language.Error{Message: "unsupported Content-Type"}
	}
	reader := io.Reader(r.Body)
	if maxBody > 0 {
		reader = io.LimitReader(r.Body, maxBody+1)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, &language.Error{Message: "failed to read body"}
	}
	defer r.Body.Close()
	if maxBody > 0 && int64(len(body)) > maxBody {
		return nil, &language.Error{Message: errBodyTooLargeMessage}
	}
	return body, nil
}

func toLanguageError(err error) *language.Error {
	var le *language.Error
	if errors.As(err, &le) {
		return le
	}
	return &language.Error{Message: err.Error()}
}

// ------------------ Response formatting ------------------

const errBodyTooLargeMessage = "body too large"

func bodyErrorStatus(err *language.Error) int {
	if err.Message == errBodyTooLargeMessage {
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusBadRequest
}

type responseLocation struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

type responseError struct {
	Message   string             `json:"message"`
	Locations []responseLocation `json:"locations,omitempty"`
}

type errorResult struct {
	Errors []responseError `json:"errors"`
}

func errorResponse(err *language.Error) errorResult {
	re := responseError{Message: err.Message}
	for _, loc := range err.Locations {
		re.Locations = append(re.Locations, responseLocation{Line: loc.Line, Column: loc.Column})
	}
	return errorResult{Errors: []responseError{re}}
}

func writeJSON(w http.ResponseWriter, status int, v any, pretty bool) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	if pretty {
		enc.SetIndent("", "  ")
	}
	_ = enc.Encode(v)
}

func setCORSHeaders(w http.ResponseWriter, r *http.Request, opts CORSOptions) {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return
	}
	allowed := false
	for _, o := range opts.AllowedOrigins {
		if o == "*" || o == origin {
			allowed = true
			break
		}
	}
	if !allowed {
		return
	}
	if contains(opts.AllowedOrigins, "*") {
		w.Header().Set("Access-Control-Allow-Origin", "*")
	} else {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Add("Vary", "Origin")
	}
	if r.Method == http.MethodOptions {
		if hdr := r.Header.Get("Access-Control-Request-Headers"); hdr != "" {
			w.Header().Set("Access-Control-Allow-Headers", hdr)
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
