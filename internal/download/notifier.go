package download

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Stage names a step of the track pipeline
type Stage string

const (
	StageStarting    Stage = "starting"
	StageDownloading Stage = "downloading"
	StageMetadata    Stage = "processing_metadata"
	StageTagging     Stage = "tagging"
	StageFinishing   Stage = "finishing"
	StageCover       Stage = "cover"
)

// Notifier receives pipeline events. Implementations must not block.
type Notifier interface {
	NotifyStarted(trackID string)
	NotifyStage(trackID string, stage Stage)
	NotifyProgress(trackID string, percent float64, etaSeconds int64)
	NotifyCompleted(trackID string)
	NotifyFailed(trackID string, err error)
}

type nopNotifier struct{}

func (nopNotifier) NotifyStarted(string)                  {}
func (nopNotifier) NotifyStage(string, Stage)             {}
func (nopNotifier) NotifyProgress(string, float64, int64) {}
func (nopNotifier) NotifyCompleted(string)                {}
func (nopNotifier) NotifyFailed(string, error)            {}

// ProgressUpdate represents a progress update message
type ProgressUpdate struct {
	TrackID    string    `json:"track_id"`
	Percent    float64   `json:"percent"`
	ETASeconds int64     `json:"eta_seconds"`
	ETA        string    `json:"eta,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// StatusUpdate represents a status change message
type StatusUpdate struct {
	TrackID   string    `json:"track_id"`
	Status    string    `json:"status"` // started, stage, completed, failed
	Stage     Stage     `json:"stage,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Message represents a notification message
type Message struct {
	Type    string      `json:"type"` // progress, status
	Payload interface{} `json:"payload"`
}

// Client is a connected event stream consumer
type Client struct {
	ID       string
	SendChan chan []byte
	mu       sync.Mutex
	closed   bool
}

// NewClient creates a new client with a random id
func NewClient() *Client {
	return &Client{
		ID:       uuid.NewString(),
		SendChan: make(chan []byte, 256),
	}
}

// Send queues a message, dropping it when the client is slow
func (c *Client) Send(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	select {
	case c.SendChan <- data:
		return true
	default:
		return false
	}
}

// Close closes the client's send channel
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.SendChan)
	}
}

// ProgressNotifier fans pipeline events out to connected clients
type ProgressNotifier struct {
	clients    map[string]*Client
	broadcast  chan *Message
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
	logger     *zap.Logger

	statsMu      sync.RWMutex
	active       map[string]*DownloadStats
	successCount int
	failureCount int
	total        int
}

// DownloadStats tracks one in-flight track
type DownloadStats struct {
	TrackID    string    `json:"track_id"`
	StartTime  time.Time `json:"start_time"`
	LastUpdate time.Time `json:"last_update"`
	Stage      Stage     `json:"stage"`
	Percent    float64   `json:"percent"`
	ETASeconds int64     `json:"eta_seconds"`
}

// NewProgressNotifier creates a new progress notifier
func NewProgressNotifier(logger *zap.Logger) *ProgressNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProgressNotifier{
		clients:    make(map[string]*Client),
		broadcast:  make(chan *Message, 256),
		register:   make(chan *Client, 16),
		unregister: make(chan *Client, 16),
		active:     make(map[string]*DownloadStats),
		logger:     logger.Named("notifier"),
	}
}

// Start runs the event loop until ctx is done
func (pn *ProgressNotifier) Start(ctx context.Context) {
	go pn.run(ctx)
}

func (pn *ProgressNotifier) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			pn.mu.Lock()
			for id, client := range pn.clients {
				delete(pn.clients, id)
				client.Close()
			}
			pn.mu.Unlock()
			return

		case client := <-pn.register:
			pn.mu.Lock()
			pn.clients[client.ID] = client
			pn.mu.Unlock()

		case client := <-pn.unregister:
			pn.mu.Lock()
			if _, ok := pn.clients[client.ID]; ok {
				delete(pn.clients, client.ID)
				client.Close()
			}
			pn.mu.Unlock()

		case message := <-pn.broadcast:
			pn.broadcastMessage(message)
		}
	}
}

func (pn *ProgressNotifier) broadcastMessage(message *Message) {
	data, err := json.Marshal(message)
	if err != nil {
		pn.logger.Warn("Failed to encode event", zap.Error(err))
		return
	}

	pn.mu.RLock()
	for _, client := range pn.clients {
		if !client.Send(data) {
			pn.logger.Debug("Dropped event for slow client", zap.String("client", client.ID))
		}
	}
	pn.mu.RUnlock()
}

// Register registers a new client
func (pn *ProgressNotifier) Register(client *Client) {
	pn.register <- client
}

// Unregister unregisters a client
func (pn *ProgressNotifier) Unregister(client *Client) {
	pn.unregister <- client
}

func (pn *ProgressNotifier) publish(messageType string, payload interface{}) {
	select {
	case pn.broadcast <- &Message{Type: messageType, Payload: payload}:
	default:
		// Broadcast channel full, drop message
	}
}

// NotifyStarted notifies that a track has been claimed
func (pn *ProgressNotifier) NotifyStarted(trackID string) {
	now := time.Now()

	pn.statsMu.Lock()
	pn.active[trackID] = &DownloadStats{
		TrackID:    trackID,
		StartTime:  now,
		LastUpdate: now,
		Stage:      StageStarting,
		ETASeconds: -1,
	}
	pn.total++
	pn.statsMu.Unlock()

	pn.publish("status", &StatusUpdate{TrackID: trackID, Status: "started", Timestamp: now})
}

// NotifyStage notifies that a track entered a pipeline stage
func (pn *ProgressNotifier) NotifyStage(trackID string, stage Stage) {
	now := time.Now()

	pn.statsMu.Lock()
	if s, ok := pn.active[trackID]; ok {
		s.Stage = stage
		s.LastUpdate = now
	}
	pn.statsMu.Unlock()

	pn.publish("status", &StatusUpdate{TrackID: trackID, Status: "stage", Stage: stage, Timestamp: now})
}

// NotifyProgress notifies download progress of a track
func (pn *ProgressNotifier) NotifyProgress(trackID string, percent float64, etaSeconds int64) {
	now := time.Now()

	pn.statsMu.Lock()
	if s, ok := pn.active[trackID]; ok {
		s.Percent = percent
		s.ETASeconds = etaSeconds
		s.LastUpdate = now
	}
	pn.statsMu.Unlock()

	pn.publish("progress", &ProgressUpdate{
		TrackID:    trackID,
		Percent:    percent,
		ETASeconds: etaSeconds,
		ETA:        FormatETA(etaSeconds),
		Timestamp:  now,
	})
}

// NotifyCompleted notifies that a track was downloaded
func (pn *ProgressNotifier) NotifyCompleted(trackID string) {
	pn.statsMu.Lock()
	delete(pn.active, trackID)
	pn.successCount++
	pn.statsMu.Unlock()

	pn.publish("status", &StatusUpdate{TrackID: trackID, Status: "completed", Timestamp: time.Now()})
}

// NotifyFailed notifies that a track failed
func (pn *ProgressNotifier) NotifyFailed(trackID string, err error) {
	pn.statsMu.Lock()
	delete(pn.active, trackID)
	pn.failureCount++
	pn.statsMu.Unlock()

	update := &StatusUpdate{TrackID: trackID, Status: "failed", Timestamp: time.Now()}
	if err != nil {
		update.Error = err.Error()
	}
	pn.publish("status", update)
}

// Stats summarises the tracks seen since start
type Stats struct {
	ActiveDownloads int             `json:"active_downloads"`
	TotalDownloads  int             `json:"total_downloads"`
	SuccessCount    int             `json:"success_count"`
	FailureCount    int             `json:"failure_count"`
	Active          []DownloadStats `json:"active"`
}

// GetStats returns a snapshot of download statistics
func (pn *ProgressNotifier) GetStats() Stats {
	pn.statsMu.RLock()
	defer pn.statsMu.RUnlock()

	stats := Stats{
		ActiveDownloads: len(pn.active),
		TotalDownloads:  pn.total,
		SuccessCount:    pn.successCount,
		FailureCount:    pn.failureCount,
		Active:          make([]DownloadStats, 0, len(pn.active)),
	}
	for _, s := range pn.active {
		stats.Active = append(stats.Active, *s)
	}
	return stats
}

// GetClientCount returns the number of connected clients
func (pn *ProgressNotifier) GetClientCount() int {
	pn.mu.RLock()
	defer pn.mu.RUnlock()
	return len(pn.clients)
}

// FormatETA formats seconds as m:ss or h:mm:ss. Negative values are unknown.
func FormatETA(seconds int64) string {
	if seconds < 0 {
		return ""
	}
	h := seconds / 3600
	m := (seconds % 3600) / 60
	s := seconds % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}

// CallbackNotifier invokes plain functions for each event
type CallbackNotifier struct {
	mu               sync.RWMutex
	progressCallback func(trackID string, percent float64, eta string)
	statusCallback   func(trackID string, status string, detail string)
	logger           *zap.Logger
}

// NewCallbackNotifier creates a new callback-based notifier
func NewCallbackNotifier(logger *zap.Logger) *CallbackNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CallbackNotifier{logger: logger}
}

// SetProgressCallback sets the callback function for progress updates
func (cn *CallbackNotifier) SetProgressCallback(callback func(trackID string, percent float64, eta string)) {
	cn.mu.Lock()
	defer cn.mu.Unlock()
	cn.progressCallback = callback
}

// SetStatusCallback sets the callback function for status updates
func (cn *CallbackNotifier) SetStatusCallback(callback func(trackID string, status string, detail string)) {
	cn.mu.Lock()
	defer cn.mu.Unlock()
	cn.statusCallback = callback
}

func (cn *CallbackNotifier) status(trackID, status, detail string) {
	cn.mu.RLock()
	callback := cn.statusCallback
	cn.mu.RUnlock()

	if callback == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			cn.logger.Error("Status callback panicked", zap.Any("panic", r))
		}
	}()
	callback(trackID, status, detail)
}

// NotifyStarted implements Notifier
func (cn *CallbackNotifier) NotifyStarted(trackID string) {
	cn.status(trackID, "started", "")
}

// NotifyStage implements Notifier
func (cn *CallbackNotifier) NotifyStage(trackID string, stage Stage) {
	cn.status(trackID, "stage", string(stage))
}

// NotifyProgress implements Notifier
func (cn *CallbackNotifier) NotifyProgress(trackID string, percent float64, etaSeconds int64) {
	cn.mu.RLock()
	callback := cn.progressCallback
	cn.mu.RUnlock()

	if callback == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			cn.logger.Error("Progress callback panicked", zap.Any("panic", r))
		}
	}()
	callback(trackID, percent, FormatETA(etaSeconds))
}

// NotifyCompleted implements Notifier
func (cn *CallbackNotifier) NotifyCompleted(trackID string) {
	cn.status(trackID, "completed", "")
}

// NotifyFailed implements Notifier
func (cn *CallbackNotifier) NotifyFailed(trackID string, err error) {
	detail := ""
	if err != nil {
		detail = err.Error()
	}
	cn.status(trackID, "failed", detail)
}

// MultiNotifier forwards every event to each notifier in turn
type MultiNotifier []Notifier

func (m MultiNotifier) NotifyStarted(trackID string) {
	for _, n := range m {
		n.NotifyStarted(trackID)
	}
}

func (m MultiNotifier) NotifyStage(trackID string, stage Stage) {
	for _, n := range m {
		n.NotifyStage(trackID, stage)
	}
}

func (m MultiNotifier) NotifyProgress(trackID string, percent float64, etaSeconds int64) {
	for _, n := range m {
		n.NotifyProgress(trackID, percent, etaSeconds)
	}
}

func (m MultiNotifier) NotifyCompleted(trackID string) {
	for _, n := range m {
		n.NotifyCompleted(trackID)
	}
}

func (m MultiNotifier) NotifyFailed(trackID string, err error) {
	for _, n := range m {
		n.NotifyFailed(trackID, err)
	}
}
