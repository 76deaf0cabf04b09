package repository

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/xiaot623/agentmatch/internal/domain"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketAgents  = []byte("agents")
	bucketConvos  = []byte("convos")
	bucketMatches = []byte("matches") // keyed by convo_id
	bucketFeed    = []byte("feed")    // keyed by convo_id
	bucketEvents  = []byte("events")  // keyed by convo_id/ts/event_id
	bucketStats   = []byte("site_stats")

	keyVisits = []byte("visits")
)

var errDuplicate = errors.New("UNIQUE constraint failed")

// BoltStore implements Store on a single bbolt file. Every write runs in one
// read-write transaction, so conditional updates are serialized by bbolt.
type BoltStore struct {
	db *bolt.DB
}

// boltAgent is the stored form of an agent; Seq breaks last_seen ties.
type boltAgent struct {
	domain.Agent
	Seq uint64 `json:"seq"`
}

// NewBoltStore opens (or creates) the bbolt file at path.
func NewBoltStore(path string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketAgents, bucketConvos, bucketMatches, bucketFeed, bucketEvents, bucketStats} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}
	return &BoltStore{db: db}, nil
}

// Close closes the database file.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func getJSON(b *bolt.Bucket, key string, out interface{}) (bool, error) {
	v := b.Get([]byte(key))
	if v == nil {
		return false, nil
	}
	return true, json.Unmarshal(v, out)
}

func putJSON(b *bolt.Bucket, key string, in interface{}) error {
	v, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return b.Put([]byte(key), v)
}

func (s *BoltStore) UpsertAgent(ctx context.Context, agentID string, profile domain.Profile, now time.Time) (bool, error) {
	created := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAgents)
		var rec boltAgent
		found, err := getJSON(b, agentID, &rec)
		if err != nil {
			return err
		}
		if !found {
			seq, err := b.NextSequence()
			if err != nil {
				return err
			}
			created = true
			rec = boltAgent{
				Agent: domain.Agent{
					AgentID:   agentID,
					Status:    domain.AgentStatusWaiting,
					CreatedAt: now.UTC(),
				},
				Seq: seq,
			}
		}
		contact := rec.ContactHandle
		rec.Profile = profile
		if rec.ContactHandle == "" {
			rec.ContactHandle = contact
		}
		if rec.Interests == nil {
			rec.Interests = []string{}
		}
		if rec.Dealbreakers == nil {
			rec.Dealbreakers = []string{}
		}
		rec.LastSeen = now.UTC()
		return putJSON(b, agentID, &rec)
	})
	return created, err
}

func (s *BoltStore) GetAgent(ctx context.Context, agentID string) (*domain.Agent, error) {
	var rec boltAgent
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		found, err = getJSON(tx.Bucket(bucketAgents), agentID, &rec)
		return err
	})
	if err != nil || !found {
		return nil, err
	}
	return &rec.Agent, nil
}

func (s *BoltStore) UpdateAgent(ctx context.Context, agentID string, update domain.AgentUpdate) error {
	_, err := s.CompareAndSwapAgent(ctx, agentID, AgentGuard{}, update)
	return err
}

func (s *BoltStore) CompareAndSwapAgent(ctx context.Context, agentID string, guard AgentGuard, update domain.AgentUpdate) (bool, error) {
	swapped := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAgents)
		var rec boltAgent
		found, err := getJSON(b, agentID, &rec)
		if err != nil || !found {
			return err
		}
		if guard.Status != "" && rec.Status != guard.Status {
			return nil
		}
		if guard.ConvoID != "" && rec.CurrentConvo != guard.ConvoID {
			return nil
		}
		rec.Status = update.Status
		rec.CurrentConvo = update.CurrentConvo
		if update.LastSeen != nil {
			rec.LastSeen = update.LastSeen.UTC()
		}
		swapped = true
		return putJSON(b, agentID, &rec)
	})
	return swapped, err
}

func (s *BoltStore) TouchAgent(ctx context.Context, agentID string, now time.Time) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAgents)
		var rec boltAgent
		found, err := getJSON(b, agentID, &rec)
		if err != nil || !found {
			return err
		}
		rec.LastSeen = now.UTC()
		return putJSON(b, agentID, &rec)
	})
}

func (s *BoltStore) forEachAgent(fn func(rec *boltAgent)) error {
	return s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAgents).ForEach(func(k, v []byte) error {
			var rec boltAgent
			if err := json.Unmarshal(v, &rec); err != nil {
				// Skip malformed entries instead of failing the whole scan
				return nil
			}
			fn(&rec)
			return nil
		})
	})
}

func (s *BoltStore) PickOldestWaiting(ctx context.Context, excluding string) (*domain.Agent, error) {
	var best *boltAgent
	err := s.forEachAgent(func(rec *boltAgent) {
		if rec.Status != domain.AgentStatusWaiting || rec.AgentID == excluding {
			return
		}
		if best == nil || rec.LastSeen.Before(best.LastSeen) ||
			(rec.LastSeen.Equal(best.LastSeen) && rec.Seq < best.Seq) {
			best = rec
		}
	})
	if err != nil || best == nil {
		return nil, err
	}
	return &best.Agent, nil
}

func (s *BoltStore) CountWaiting(ctx context.Context) (int, error) {
	n := 0
	err := s.forEachAgent(func(rec *boltAgent) {
		if rec.Status == domain.AgentStatusWaiting {
			n++
		}
	})
	return n, err
}

func (s *BoltStore) IncrementAgentStats(ctx context.Context, agentID string, verdict domain.Verdict) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAgents)
		var rec boltAgent
		found, err := getJSON(b, agentID, &rec)
		if err != nil || !found {
			return err
		}
		rec.Stats.Convos++
		if verdict == domain.VerdictMatch {
			rec.Stats.Matches++
		} else {
			rec.Stats.Passes++
		}
		return putJSON(b, agentID, &rec)
	})
}

func (s *BoltStore) ListLeaderboard(ctx context.Context, limit int) ([]domain.Agent, error) {
	var recs []boltAgent
	if err := s.forEachAgent(func(rec *boltAgent) { recs = append(recs, *rec) }); err != nil {
		return nil, err
	}
	sort.SliceStable(recs, func(i, j int) bool {
		si, sj := recs[i].ScoreOrDefault(), recs[j].ScoreOrDefault()
		if si != sj {
			return si > sj
		}
		if recs[i].Stats.Matches != recs[j].Stats.Matches {
			return recs[i].Stats.Matches > recs[j].Stats.Matches
		}
		return recs[i].Seq < recs[j].Seq
	})
	if limit > 0 && len(recs) > limit {
		recs = recs[:limit]
	}
	agents := make([]domain.Agent, len(recs))
	for i := range recs {
		agents[i] = recs[i].Agent
	}
	return agents, nil
}

func (s *BoltStore) CreateConversation(ctx context.Context, convo *domain.Conversation) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketConvos)
		if b.Get([]byte(convo.ConvoID)) != nil {
			return errDuplicate
		}
		stored := *convo
		stored.Messages = nonNilMessages(convo.Messages)
		return putJSON(b, convo.ConvoID, &stored)
	})
}

func (s *BoltStore) GetConversation(ctx context.Context, convoID string) (*domain.Conversation, error) {
	var convo domain.Conversation
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		found, err = getJSON(tx.Bucket(bucketConvos), convoID, &convo)
		return err
	})
	if err != nil || !found {
		return nil, err
	}
	return &convo, nil
}

// updateConvo loads, mutates and stores a conversation in one transaction.
// fn returns false to leave the row unchanged.
func (s *BoltStore) updateConvo(convoID string, fn func(c *domain.Conversation) bool) (bool, error) {
	changed := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketConvos)
		var convo domain.Conversation
		found, err := getJSON(b, convoID, &convo)
		if err != nil || !found {
			return err
		}
		if !fn(&convo) {
			return nil
		}
		changed = true
		return putJSON(b, convoID, &convo)
	})
	return changed, err
}

func (s *BoltStore) AppendMessage(ctx context.Context, convoID string, msg domain.Message, nextTurn string, maxMessages int) (bool, error) {
	return s.updateConvo(convoID, func(c *domain.Conversation) bool {
		if c.Status != domain.ConvoStatusActive || c.Turn != msg.FromAgent || len(c.Messages) >= maxMessages {
			return false
		}
		c.Messages = append(c.Messages, msg)
		c.Turn = nextTurn
		if len(c.Messages) >= maxMessages {
			c.Status = domain.ConvoStatusPendingVerdict
		}
		return true
	})
}

func (s *BoltStore) SetVerdict(ctx context.Context, convoID string, slot int, verdict domain.Verdict) (bool, error) {
	return s.updateConvo(convoID, func(c *domain.Conversation) bool {
		if c.Status != domain.ConvoStatusPendingVerdict {
			return false
		}
		target := &c.Verdict1
		if slot == 2 {
			target = &c.Verdict2
		}
		if *target != "" {
			return false
		}
		*target = verdict
		return true
	})
}

func (s *BoltStore) CompleteConversation(ctx context.Context, convoID string, completedAt time.Time) (bool, error) {
	return s.updateConvo(convoID, func(c *domain.Conversation) bool {
		if c.Status != domain.ConvoStatusPendingVerdict || !c.BothVerdicts() {
			return false
		}
		at := completedAt.UTC()
		c.Status = domain.ConvoStatusComplete
		c.CompletedAt = &at
		return true
	})
}

func (s *BoltStore) ListConversations(ctx context.Context, statuses []domain.ConvoStatus, limit int) ([]domain.Conversation, error) {
	want := make(map[domain.ConvoStatus]bool, len(statuses))
	for _, st := range statuses {
		want[st] = true
	}
	var convos []domain.Conversation
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketConvos).ForEach(func(k, v []byte) error {
			var c domain.Conversation
			if err := json.Unmarshal(v, &c); err != nil {
				return nil
			}
			if len(want) == 0 || want[c.Status] {
				convos = append(convos, c)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(convos, func(i, j int) bool { return convos[i].CreatedAt.After(convos[j].CreatedAt) })
	if limit > 0 && len(convos) > limit {
		convos = convos[:limit]
	}
	return convos, nil
}

func (s *BoltStore) CreateMatch(ctx context.Context, match *domain.Match) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketMatches)
		if b.Get([]byte(match.ConvoID)) != nil {
			return errDuplicate
		}
		return putJSON(b, match.ConvoID, match)
	})
}

func (s *BoltStore) GetMatchByConvo(ctx context.Context, convoID string) (*domain.Match, error) {
	var m domain.Match
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		found, err = getJSON(tx.Bucket(bucketMatches), convoID, &m)
		return err
	})
	if err != nil || !found {
		return nil, err
	}
	return &m, nil
}

func (s *BoltStore) CreateFeedEntry(ctx context.Context, entry *domain.FeedEntry) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketFeed)
		if b.Get([]byte(entry.ConvoID)) != nil {
			return errDuplicate
		}
		return putJSON(b, entry.ConvoID, entry)
	})
}

func (s *BoltStore) GetFeedEntryByConvo(ctx context.Context, convoID string) (*domain.FeedEntry, error) {
	var entry domain.FeedEntry
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		found, err = getJSON(tx.Bucket(bucketFeed), convoID, &entry)
		return err
	})
	if err != nil || !found {
		return nil, err
	}
	return &entry, nil
}

func (s *BoltStore) ListFeed(ctx context.Context, limit int) ([]domain.FeedEntry, error) {
	var entries []domain.FeedEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketFeed).ForEach(func(k, v []byte) error {
			var e domain.FeedEntry
			if err := json.Unmarshal(v, &e); err != nil {
				return nil
			}
			entries = append(entries, e)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].CreatedAt.After(entries[j].CreatedAt) })
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// eventKey sorts events by conversation, then timestamp.
func eventKey(convoID string, ts int64, eventID string) []byte {
	var buf bytes.Buffer
	buf.WriteString(convoID)
	buf.WriteByte('/')
	var tsBytes [8]byte
	binary.BigEndian.PutUint64(tsBytes[:], uint64(ts))
	buf.Write(tsBytes[:])
	buf.WriteString(eventID)
	return buf.Bytes()
}

func (s *BoltStore) CreateEvent(ctx context.Context, event *domain.Event) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		v, err := json.Marshal(event)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketEvents).Put(eventKey(event.ConvoID, event.Ts, event.EventID), v)
	})
}

func (s *BoltStore) GetEvents(ctx context.Context, convoID string, afterTs int64, types []string, limit int) ([]domain.Event, error) {
	want := make(map[string]bool, len(types))
	for _, t := range types {
		want[t] = true
	}
	prefix := []byte(convoID + "/")
	var events []domain.Event
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketEvents).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var e domain.Event
			if err := json.Unmarshal(v, &e); err != nil {
				continue
			}
			if afterTs > 0 && e.Ts <= afterTs {
				continue
			}
			if len(want) > 0 && !want[string(e.Type)] {
				continue
			}
			events = append(events, e)
			if limit > 0 && len(events) >= limit {
				break
			}
		}
		return nil
	})
	return events, err
}

func (s *BoltStore) IncrementVisits(ctx context.Context) (int64, error) {
	var visits int64
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketStats)
		if v := b.Get(keyVisits); len(v) == 8 {
			visits = int64(binary.BigEndian.Uint64(v))
		}
		visits++
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], uint64(visits))
		return b.Put(keyVisits, buf[:])
	})
	return visits, err
}

func (s *BoltStore) GetCounts(ctx context.Context) (*domain.SiteCounts, error) {
	var counts domain.SiteCounts
	err := s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(bucketStats).Get(keyVisits); len(v) == 8 {
			counts.Visits = int64(binary.BigEndian.Uint64(v))
		}
		counts.Agents = tx.Bucket(bucketAgents).Stats().KeyN
		counts.Convos = tx.Bucket(bucketConvos).Stats().KeyN
		counts.Matches = tx.Bucket(bucketMatches).Stats().KeyN
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &counts, nil
}

var _ Store = (*BoltStore)(nil)
var _ Store = (*SQLiteStore)(nil)
