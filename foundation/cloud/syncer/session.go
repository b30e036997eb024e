package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ardanlabs/encloud/foundation/cloud/identity"
	"github.com/ardanlabs/encloud/foundation/cloud/journal"
	"github.com/ardanlabs/encloud/foundation/cloud/transport"
)

// ErrRemote is returned when the peer answers a request with an error.
var ErrRemote = errors.New("remote error")

// ErrSessionClosed is returned for requests made after the session stopped.
var ErrSessionClosed = errors.New("session closed")

// Session is one side of a duplex sync channel. It answers the peer's
// requests from the local journals and implements Remote so the local side
// can pull from the peer over the same connection.
type Session struct {
	conn      transport.Conn
	journals  Journals
	evHandler EventHandler

	wmu sync.Mutex

	mu      sync.Mutex
	nextID  uint64
	pending map[uint64]chan Envelope

	inflight chan struct{}
	done     chan struct{}
	wg       sync.WaitGroup
}

// NewSession constructs a session over the connection. Run must be called
// for the session to read anything.
func (s *Syncer) NewSession(conn transport.Conn) *Session {
	return &Session{
		conn:      conn,
		journals:  s.journals,
		evHandler: s.evHandler,
		pending:   make(map[uint64]chan Envelope),
		inflight:  make(chan struct{}, MaxInFlight),
		done:      make(chan struct{}),
	}
}

// Run reads messages until the connection fails or the context is canceled.
// Requests are answered on their own goroutine so the reader never blocks
// behind a send. At most MaxInFlight answers run at once; past that the
// reader waits for one to finish.
func (s *Session) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)

	defer func() {
		cancel()
		s.wg.Wait()
		close(s.done)
	}()

	for {
		data, err := s.conn.Receive(ctx)
		if err != nil {
			if errors.Is(err, transport.ErrClosed) || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			s.evHandler("syncer: session: dropping malformed message: %s", err)
			continue
		}

		if isRequest(env.Type) {
			select {
			case s.inflight <- struct{}{}:
			case <-ctx.Done():
				return nil
			}

			s.wg.Add(1)
			go func() {
				defer func() {
					<-s.inflight
					s.wg.Done()
				}()
				s.answer(ctx, env)
			}()
			continue
		}

		s.mu.Lock()
		ch, exists := s.pending[env.ID]
		delete(s.pending, env.ID)
		s.mu.Unlock()

		if !exists {
			s.evHandler("syncer: session: dropping unsolicited %s[%d]", env.Type, env.ID)
			continue
		}

		ch <- env
	}
}

// Close closes the underlying connection which stops Run.
func (s *Session) Close() error {
	return s.conn.Close()
}

// Done returns a channel that is closed once Run has returned.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// =============================================================================

// Status asks the peer for its view of the cloud.
func (s *Session) Status(ctx context.Context, cloudID identity.CloudID) (journal.Status, error) {
	env, err := s.request(ctx, TypeStatusRequest, cloudID, nil)
	if err != nil {
		return journal.Status{}, err
	}

	if env.Type != TypeStatus {
		return journal.Status{}, fmt.Errorf("unexpected %s answering status: %w", env.Type, ErrRemote)
	}

	var st journal.Status
	if err := json.Unmarshal(env.Payload, &st); err != nil {
		return journal.Status{}, fmt.Errorf("decoding status: %w", err)
	}

	if st.CloudID != cloudID {
		return journal.Status{}, fmt.Errorf("status for cloud %s, exp %s: %w", st.CloudID.Short(), cloudID.Short(), ErrRemote)
	}

	return st, nil
}

// Fetch asks the peer for up to limit mutations starting at from.
func (s *Session) Fetch(ctx context.Context, cloudID identity.CloudID, from uint64, limit int) ([]journal.Mutation, error) {
	env, err := s.request(ctx, TypeRangeRequest, cloudID, RangeRequest{From: from, Limit: limit})
	if err != nil {
		return nil, err
	}

	if env.Type != TypeBatch {
		return nil, fmt.Errorf("unexpected %s answering range: %w", env.Type, ErrRemote)
	}

	var batch Batch
	if err := json.Unmarshal(env.Payload, &batch); err != nil {
		return nil, fmt.Errorf("decoding batch: %w", err)
	}

	return batch.Mutations, nil
}

// Ping measures the round trip time to the peer.
func (s *Session) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()

	env, err := s.request(ctx, TypePing, identity.CloudID{}, nil)
	if err != nil {
		return 0, err
	}

	if env.Type != TypePong {
		return 0, fmt.Errorf("unexpected %s answering ping: %w", env.Type, ErrRemote)
	}

	return time.Since(start), nil
}

// Keepalive pings the peer at the specified interval until a ping fails,
// the session ends or the context is canceled.
func (s *Session) Keepalive(ctx context.Context, every time.Duration) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			pctx, cancel := context.WithTimeout(ctx, every)
			_, err := s.Ping(pctx)
			cancel()

			if err != nil {
				return fmt.Errorf("keepalive: %w", err)
			}

		case <-s.done:
			return nil

		case <-ctx.Done():
			return nil
		}
	}
}

// request sends a request and waits for the matching response.
func (s *Session) request(ctx context.Context, typ string, cloudID identity.CloudID, payload any) (Envelope, error) {
	select {
	case <-s.done:
		return Envelope{}, ErrSessionClosed
	default:
	}

	env := Envelope{
		Type:    typ,
		CloudID: cloudID,
	}

	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Envelope{}, err
		}
		env.Payload = data
	}

	ch := make(chan Envelope, 1)

	s.mu.Lock()
	s.nextID++
	env.ID = s.nextID
	s.pending[env.ID] = ch
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.pending, env.ID)
		s.mu.Unlock()
	}()

	if err := s.send(ctx, env); err != nil {
		return Envelope{}, err
	}

	select {
	case resp := <-ch:
		if resp.Type == TypeError {
			var msg ErrorMessage
			if err := json.Unmarshal(resp.Payload, &msg); err != nil {
				return Envelope{}, fmt.Errorf("decoding error message: %w: %w", ErrRemote, err)
			}
			return Envelope{}, fmt.Errorf("%s: %w", msg.Message, ErrRemote)
		}
		return resp, nil

	case <-s.done:
		return Envelope{}, ErrSessionClosed

	case <-ctx.Done():
		return Envelope{}, ctx.Err()
	}
}

// answer serves one request from the peer.
func (s *Session) answer(ctx context.Context, req Envelope) {
	resp := Envelope{
		ID:      req.ID,
		CloudID: req.CloudID,
	}

	var payload any
	var err error

	switch req.Type {
	case TypePing:
		resp.Type = TypePong

	case TypeStatusRequest:
		resp.Type = TypeStatus
		payload, err = s.status(req.CloudID)

	case TypeRangeRequest:
		resp.Type = TypeBatch
		payload, err = s.batch(req)
	}

	if err != nil {
		s.evHandler("syncer: session: answer: %s[%d]: ERROR: %s", req.Type, req.ID, err)
		resp.Type = TypeError
		payload = ErrorMessage{Message: err.Error()}
	}

	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			s.evHandler("syncer: session: answer: %s[%d]: ERROR: %s", req.Type, req.ID, err)
			return
		}
		resp.Payload = data
	}

	if err := s.send(ctx, resp); err != nil {
		s.evHandler("syncer: session: answer: %s[%d]: send: ERROR: %s", req.Type, req.ID, err)
	}
}

func (s *Session) status(cloudID identity.CloudID) (journal.Status, error) {
	j, err := s.journals.Journal(cloudID)
	if err != nil {
		return journal.Status{}, err
	}

	return j.Status(), nil
}

func (s *Session) batch(req Envelope) (Batch, error) {
	var rr RangeRequest
	if err := json.Unmarshal(req.Payload, &rr); err != nil {
		return Batch{}, fmt.Errorf("decoding range request: %w", err)
	}

	if rr.Limit <= 0 || rr.Limit > MaxServedBatch {
		rr.Limit = MaxServedBatch
	}

	j, err := s.journals.Journal(req.CloudID)
	if err != nil {
		return Batch{}, err
	}

	mutations, err := j.Range(rr.From, rr.Limit)
	if err != nil {
		return Batch{}, err
	}

	mutations = fitFrame(mutations)

	batch := Batch{
		From:      rr.From,
		Mutations: mutations,
		More:      rr.From+uint64(len(mutations)) < j.Length(),
	}

	return batch, nil
}

// fitFrame trims the mutations so the batch stays under MaxFrameSize. The
// first mutation is always kept.
func fitFrame(mutations []journal.Mutation) []journal.Mutation {
	size := 0
	for i, m := range mutations {
		size += 2*len(m.Ciphertext) + mutationOverhead
		if i > 0 && size > MaxFrameSize-mutationOverhead {
			return mutations[:i]
		}
	}
	return mutations
}

// send writes one envelope; the connection allows a single writer.
func (s *Session) send(ctx context.Context, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}

	s.wmu.Lock()
	defer s.wmu.Unlock()

	return s.conn.Send(ctx, data)
}
