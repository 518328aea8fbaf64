package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	_ "github.com/glebarez/go-sqlite" // Pure Go SQLite driver
	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/gmsas95/careclock-cli/internal/config"
	"github.com/gmsas95/careclock-cli/internal/dose"
	apperrors "github.com/gmsas95/careclock-cli/internal/errors"
)

// InMemory opens either database without touching the disk
const InMemory = ":memory:"

const (
	keyCareRecipient = "care_recipient_id"

	prefixSnapshot = "snapshot:"
	prefixQueue    = "queue:"
	queueTaken     = "taken"
)

// Store provides unified access to SQLite and BadgerDB
type Store struct {
	db     *gorm.DB
	badger *badger.DB
}

// New opens the store at the paths of the storage section
func New(cfg *config.Config) (*Store, error) {
	sqlitePath := cfg.Storage.SQLitePath
	if sqlitePath == "" {
		sqlitePath = filepath.Join(cfg.Storage.DataDir, "careclock.db")
	}
	badgerPath := cfg.Storage.BadgerPath
	if badgerPath == "" {
		badgerPath = filepath.Join(cfg.Storage.DataDir, "badger")
	}
	return Open(sqlitePath, badgerPath)
}

// sqlOpen is replaced in tests to observe the handle
var sqlOpen = sql.Open

// Open opens SQLite at sqlitePath and BadgerDB at badgerPath. Either may be InMemory.
func Open(sqlitePath, badgerPath string) (*Store, error) {
	dsn := sqlitePath
	if sqlitePath != InMemory {
		dsn += "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	}

	sqliteDB, err := sqlOpen("sqlite", dsn)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrStoreUnavailable.Code, "failed to open sqlite")
	}

	if sqlitePath == InMemory {
		// every connection would get its own empty database
		sqliteDB.SetMaxOpenConns(1)
	} else {
		sqliteDB.SetMaxOpenConns(4)
		sqliteDB.SetMaxIdleConns(2)
		sqliteDB.SetConnMaxLifetime(time.Hour)
	}

	db, err := gorm.Open(sqlite.Dialector{Conn: sqliteDB}, &gorm.Config{
		Logger:                 logger.Default.LogMode(logger.Silent),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		sqliteDB.Close()
		return nil, apperrors.Wrap(err, apperrors.ErrStoreUnavailable.Code, "failed to open sqlite")
	}

	if err := db.AutoMigrate(
		&Setting{},
		&AlertRecord{},
		&TakenRecord{},
	); err != nil {
		sqliteDB.Close()
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}

	var badgerOpts badger.Options
	if badgerPath == InMemory {
		badgerOpts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		badgerOpts = badger.DefaultOptions(badgerPath).
			WithNumVersionsToKeep(1).
			WithCompactL0OnClose(true).
			WithValueLogFileSize(16 << 20).
			WithMemTableSize(16 << 20)
	}
	badgerOpts = badgerOpts.WithLogger(nil)

	badgerDB, err := badger.Open(badgerOpts)
	if err != nil {
		sqliteDB.Close()
		return nil, apperrors.Wrap(err, apperrors.ErrStoreUnavailable.Code, "failed to open badger")
	}

	return &Store{
		db:     db,
		badger: badgerDB,
	}, nil
}

// Close closes all database connections
func (s *Store) Close() error {
	berr := s.badger.Close()
	if sqlDB, err := s.db.DB(); err == nil {
		if cerr := sqlDB.Close(); cerr != nil && berr == nil {
			return cerr
		}
	}
	return berr
}

// DB returns the GORM database instance
func (s *Store) DB() *gorm.DB {
	return s.db
}

// ==================== Settings ====================

// GetSetting returns the value of key and whether it was set
func (s *Store) GetSetting(key string) (string, bool, error) {
	var setting Setting
	err := s.db.First(&setting, "key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return setting.Value, true, nil
}

// SetSetting creates or replaces key
func (s *Store) SetSetting(key, value string) error {
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&Setting{Key: key, Value: value}).Error
}

// CareRecipientID returns the stored care recipient id, generating and persisting a
// random UUID on first use.
func (s *Store) CareRecipientID() (string, error) {
	var id string
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var setting Setting
		err := tx.First(&setting, "key = ?", keyCareRecipient).Error
		if err == nil && setting.Value != "" {
			id = setting.Value
			return nil
		}
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		id = uuid.NewString()
		return tx.Save(&Setting{Key: keyCareRecipient, Value: id}).Error
	})
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrStoreUnavailable.Code, "care recipient id")
	}
	return id, nil
}

// SetCareRecipientID replaces the stored care recipient id
func (s *Store) SetCareRecipientID(id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return apperrors.New(apperrors.ErrBadRequest.Code, "care recipient id must not be empty")
	}
	return s.SetSetting(keyCareRecipient, id)
}

// ==================== Alert log ====================

// AlertSent reports whether an alert of kind already went out for doseID
func (s *Store) AlertSent(doseID, kind string) (bool, error) {
	var count int64
	err := s.db.Model(&AlertRecord{}).
		Where("dose_id = ? AND kind = ?", doseID, kind).
		Count(&count).Error
	return count > 0, err
}

// RecordAlert stores rec. A second record for the same dose and kind is ignored.
func (s *Store) RecordAlert(rec *AlertRecord) error {
	return s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(rec).Error
}

// RecentAlerts lists the newest alerts first
func (s *Store) RecentAlerts(limit int) ([]AlertRecord, error) {
	var alerts []AlertRecord
	err := s.db.Order("sent_at DESC").Limit(limit).Find(&alerts).Error
	return alerts, err
}

// PruneAlerts deletes alert records for doses due before cutoff
func (s *Store) PruneAlerts(cutoff time.Time) (int64, error) {
	res := s.db.Where("due_at < ?", cutoff).Delete(&AlertRecord{})
	return res.RowsAffected, res.Error
}

// ==================== Taken history ====================

// RecordTaken stores a local history entry
func (s *Store) RecordTaken(rec *TakenRecord) error {
	return s.db.Create(rec).Error
}

// TakenHistory lists the newest entries first
func (s *Store) TakenHistory(careRecipientID string, limit int) ([]TakenRecord, error) {
	var recs []TakenRecord
	err := s.db.Where("care_recipient_id = ?", careRecipientID).
		Order("taken_at DESC").
		Limit(limit).
		Find(&recs).Error
	return recs, err
}

// MarkSynced clears the queued flag once the API accepted the request
func (s *Store) MarkSynced(doseID string) error {
	return s.db.Model(&TakenRecord{}).
		Where("dose_id = ? AND queued = ?", doseID, true).
		Update("queued", false).Error
}

// ==================== Dose snapshots (BadgerDB) ====================

// Snapshot is the last dose list fetched for a care recipient. Only the raw doses are
// kept; classification is recomputed against the current time on every read.
type Snapshot struct {
	CareRecipientID string      `json:"careRecipientId"`
	FetchedAt       time.Time   `json:"fetchedAt"`
	Doses           []dose.Dose `json:"doses"`
}

// SaveSnapshot replaces the cached dose list of a care recipient
func (s *Store) SaveSnapshot(snap Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return s.badger.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(prefixSnapshot+snap.CareRecipientID), data)
	})
}

// LoadSnapshot returns the cached dose list, or ErrSnapshotNotFound
func (s *Store) LoadSnapshot(careRecipientID string) (*Snapshot, error) {
	var snap Snapshot
	err := s.badger.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(prefixSnapshot + careRecipientID))
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			return json.Unmarshal(v, &snap)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, apperrors.ErrSnapshotNotFound
	}
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

// ==================== Offline queue (BadgerDB) ====================

// PendingTaken is a mark-as-taken request waiting for the API to come back
type PendingTaken struct {
	CareRecipientID string    `json:"careRecipientId"`
	DoseID          string    `json:"doseId"`
	MedicationID    string    `json:"medicationId"`
	DueAt           time.Time `json:"dueAt"`
	QueuedAt        time.Time `json:"queuedAt"`
}

// EnqueueTaken appends p to the offline queue
func (s *Store) EnqueueTaken(p PendingTaken) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return s.badger.Update(func(txn *badger.Txn) error {
		// timestamp keys keep FIFO order
		key := fmt.Sprintf("%s%s:%020d", prefixQueue, queueTaken, time.Now().UnixNano())
		return txn.Set([]byte(key), data)
	})
}

// PendingTakenList returns the queued requests oldest first without removing them
func (s *Store) PendingTakenList() ([]PendingTaken, error) {
	var out []PendingTaken
	prefix := []byte(prefixQueue + queueTaken + ":")
	err := s.badger.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var p PendingTaken
			if err := it.Item().Value(func(v []byte) error {
				return json.Unmarshal(v, &p)
			}); err != nil {
				return err
			}
			out = append(out, p)
		}
		return nil
	})
	return out, err
}

// DrainTaken hands each queued request to fn in FIFO order and removes the ones fn
// accepted. It stops at the first error and leaves that entry and the rest queued.
func (s *Store) DrainTaken(fn func(PendingTaken) error) (int, error) {
	prefix := []byte(prefixQueue + queueTaken + ":")
	done := 0
	for {
		var (
			key []byte
			p   PendingTaken
		)
		err := s.badger.View(func(txn *badger.Txn) error {
			opts := badger.DefaultIteratorOptions
			it := txn.NewIterator(opts)
			defer it.Close()

			it.Seek(prefix)
			if !it.ValidForPrefix(prefix) {
				return nil
			}
			item := it.Item()
			key = item.KeyCopy(nil)
			return item.Value(func(v []byte) error {
				return json.Unmarshal(v, &p)
			})
		})
		if err != nil {
			return done, err
		}
		if key == nil {
			return done, nil
		}

		if err := fn(p); err != nil {
			return done, err
		}
		if err := s.badger.Update(func(txn *badger.Txn) error {
			return txn.Delete(key)
		}); err != nil {
			return done, err
		}
		done++
	}
}
