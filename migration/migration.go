// Package migration transforms the flat sender/receiver message table
// that predates conversations into the conversation model. It runs at
// startup, is safe to re-run, and never lets a failure escape past its
// boundary: the caller decides what to do with a false return, startup
// itself must not crash on it.
package migration

import (
	"sort"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/willpeters615/student-swap-sub000/entity"
	"github.com/willpeters615/student-swap-sub000/metrics"
)

const (
	liveTableName    = "messages"
	archiveTableName = "legacy_messages"
)

// liveProbe lets the migrator inspect the live messages table whatever
// shape it currently has.
type liveProbe struct{}

func (liveProbe) TableName() string { return liveTableName }

// groupKey identifies one conversation unit in the legacy data: an
// unordered pair of users plus an optional listing. Sorting the two user
// ids makes (A,B) and (B,A) the same key, which is what unifies both
// directions of a legacy thread into one conversation.
type groupKey struct {
	userLo     uint
	userHi     uint
	listingID  uint
	hasListing bool
}

func newGroupKey(m entity.LegacyMessage) groupKey {
	k := groupKey{userLo: m.SenderID, userHi: m.ReceiverID}
	if k.userLo > k.userHi {
		k.userLo, k.userHi = k.userHi, k.userLo
	}
	if m.ListingID != nil {
		k.listingID = *m.ListingID
		k.hasListing = true
	}
	return k
}

func (k groupKey) listing() *uint {
	if !k.hasListing {
		return nil
	}
	id := k.listingID
	return &id
}

// Run performs the migration. It returns true when the conversation
// schema is in place, even if individual legacy groups failed to copy;
// best-effort per group is deliberate, one malformed row must not hold
// the rest of the data hostage.
func Run(db *gorm.DB, log *zap.SugaredLogger) bool {
	legacy := hasLegacyShape(db)

	// a legacy-shaped table cannot be migrated in place (its columns
	// clash with the new shape), so it moves aside first; the rename is
	// the archival step either way
	if legacy {
		if err := db.Migrator().RenameTable(liveTableName, archiveTableName); err != nil {
			log.Errorw("migration: archive rename failed", "error", err)
			return false
		}
		log.Infow("migration: legacy messages archived", "table", archiveTableName)
	}

	if err := db.AutoMigrate(
		&entity.Conversation{},
		&entity.ConversationParticipant{},
		&entity.Message{},
	); err != nil {
		log.Errorw("migration: schema creation failed", "error", err)
		return false
	}

	if !legacy {
		return true
	}

	var rows []entity.LegacyMessage
	if err := db.Order("created_at ASC, id ASC").Find(&rows).Error; err != nil {
		log.Errorw("migration: loading archived rows failed", "error", err)
		return true // schema is in place; the archive is intact for a retry
	}
	if len(rows) == 0 {
		return true
	}

	groups := make(map[groupKey][]entity.LegacyMessage)
	var order []groupKey
	for _, m := range rows {
		k := newGroupKey(m)
		if _, seen := groups[k]; !seen {
			order = append(order, k)
		}
		groups[k] = append(groups[k], m)
	}

	migrated, failed := 0, 0
	migratedAt := time.Now()
	for _, k := range order {
		if err := migrateGroup(db, k, groups[k], migratedAt); err != nil {
			failed++
			metrics.MigrationGroupsFailed.Inc()
			log.Errorw("migration: group failed, continuing",
				"user_lo", k.userLo, "user_hi", k.userHi,
				"listing", k.listingID, "error", err)
			continue
		}
		migrated++
		metrics.MigrationGroupsMigrated.Inc()
	}
	log.Infow("migration: complete",
		"legacy_rows", len(rows), "groups", len(order),
		"migrated", migrated, "failed", failed)
	return true
}

// hasLegacyShape reports whether the live messages table still has the
// old flat shape. The receiver column is the structural marker for the
// old shape; a conversation column means the table has already been
// brought forward.
func hasLegacyShape(db *gorm.DB) bool {
	m := db.Migrator()
	if !m.HasTable(liveTableName) {
		return false
	}
	return m.HasColumn(&liveProbe{}, "receiver_id") && !m.HasColumn(&liveProbe{}, "conversation_id")
}

// migrateGroup copies one conversation unit as a single transaction:
// the conversation, both participant rows, then every message in original
// order with original timestamps. Participants start with a null
// LastReadAt so migrated threads re-surface as unread.
func migrateGroup(db *gorm.DB, k groupKey, msgs []entity.LegacyMessage, migratedAt time.Time) error {
	sort.SliceStable(msgs, func(i, j int) bool {
		if msgs[i].CreatedAt.Equal(msgs[j].CreatedAt) {
			return msgs[i].ID < msgs[j].ID
		}
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})
	return db.Transaction(func(tx *gorm.DB) error {
		conv := &entity.Conversation{
			ListingID: k.listing(),
			CreatedAt: msgs[0].CreatedAt,
			UpdatedAt: msgs[len(msgs)-1].CreatedAt,
		}
		if err := tx.Create(conv).Error; err != nil {
			return err
		}
		for _, uid := range []uint{k.userLo, k.userHi} {
			p := &entity.ConversationParticipant{ConversationID: conv.ID, UserID: uid}
			if err := tx.Create(p).Error; err != nil {
				return err
			}
		}
		for _, m := range msgs {
			msg := m.ToMessage(conv.ID, migratedAt)
			if err := tx.Create(&msg).Error; err != nil {
				return err
			}
		}
		return nil
	})
}
