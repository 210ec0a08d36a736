package logstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gocql/gocql"
	"github.com/weiawesome/chat-relay/internal/config"
	"github.com/weiawesome/chat-relay/internal/domain"
)

const cassandraSchema = `
	CREATE TABLE IF NOT EXISTS messages_by_room (
		room_code text,
		timestamp bigint,
		seq bigint,
		id text,
		sender text,
		content text,
		PRIMARY KEY ((room_code), timestamp, seq)
	) WITH CLUSTERING ORDER BY (timestamp ASC, seq ASC)`

// CassandraBackend stores entries in the messages_by_room table, one
// partition per room clustered by (timestamp, seq).
type CassandraBackend struct {
	session *gocql.Session
}

func OpenCassandra(cfg config.CassandraConfig) (*CassandraBackend, error) {
	cluster := gocql.NewCluster(cfg.Hosts...)
	cluster.Keyspace = cfg.Keyspace
	cluster.Consistency = parseConsistency(cfg.Consistency)
	cluster.ConnectTimeout = cfg.ConnectTimeout
	cluster.Timeout = cfg.Timeout
	if cfg.NumConns > 0 {
		cluster.NumConns = cfg.NumConns
	}

	if cfg.Username != "" && cfg.Password != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: cfg.Username,
			Password: cfg.Password,
		}
	}

	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		NumRetries: 3,
		Min:        100 * time.Millisecond,
		Max:        2 * time.Second,
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create Cassandra session: %w", err)
	}

	if cfg.CreateSchema {
		if err := session.Query(cassandraSchema).Exec(); err != nil {
			session.Close()
			return nil, fmt.Errorf("failed to create messages_by_room: %w", err)
		}
	}

	return &CassandraBackend{session: session}, nil
}

func (b *CassandraBackend) Insert(ctx context.Context, e Entry) error {
	m := e.Message
	err := b.session.Query(`
		INSERT INTO messages_by_room (room_code, timestamp, seq, id, sender, content)
		VALUES (?, ?, ?, ?, ?, ?)`,
		m.RoomCode, m.Timestamp, e.Seq, m.ID, m.Sender, m.Content,
	).WithContext(ctx).Exec()
	if err != nil {
		return fmt.Errorf("failed to save message: %w", err)
	}
	return nil
}

func (b *CassandraBackend) Scan(ctx context.Context, roomCode string) ([]Entry, error) {
	iter := b.session.Query(`
		SELECT timestamp, seq, id, sender, content
		FROM messages_by_room
		WHERE room_code = ?`, roomCode).WithContext(ctx).Iter()

	var entries []Entry
	for {
		e := Entry{Message: domain.ChatMessage{RoomCode: roomCode}}
		if !iter.Scan(&e.Message.Timestamp, &e.Seq, &e.Message.ID, &e.Message.Sender, &e.Message.Content) {
			break
		}
		entries = append(entries, e)
	}

	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}
	return entries, nil
}

func (b *CassandraBackend) Last(ctx context.Context, roomCode string) (Entry, bool, error) {
	e := Entry{Message: domain.ChatMessage{RoomCode: roomCode}}
	err := b.session.Query(`
		SELECT timestamp, seq, id, sender, content
		FROM messages_by_room
		WHERE room_code = ?
		ORDER BY timestamp DESC, seq DESC
		LIMIT 1`, roomCode).WithContext(ctx).
		Scan(&e.Message.Timestamp, &e.Seq, &e.Message.ID, &e.Message.Sender, &e.Message.Content)
	if errors.Is(err, gocql.ErrNotFound) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("failed to read last message: %w", err)
	}
	return e, true, nil
}

func (b *CassandraBackend) Close() error {
	b.session.Close()
	return nil
}

// parseConsistency converts a string consistency level to gocql.Consistency.
func parseConsistency(s string) gocql.Consistency {
	switch strings.ToUpper(s) {
	case "ANY":
		return gocql.Any
	case "ONE":
		return gocql.One
	case "TWO":
		return gocql.Two
	case "THREE":
		return gocql.Three
	case "QUORUM":
		return gocql.Quorum
	case "ALL":
		return gocql.All
	case "LOCAL_QUORUM":
		return gocql.LocalQuorum
	case "EACH_QUORUM":
		return gocql.EachQuorum
	case "LOCAL_ONE":
		return gocql.LocalOne
	default:
		return gocql.LocalQuorum
	}
}
