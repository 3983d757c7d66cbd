package metering

import (
	"time"

	"github.com/google/uuid"
	"github.com/voxsuite/backend/internal/domain/shared"
)

// UsageHistory archives one closed billing period for one user. Records are
// keyed by (ArchivePeriod, UserID); re-archiving the same period overwrites
// the prior record, which keeps rollover idempotent under races.
type UsageHistory struct {
	shared.BaseEntity
	ArchivePeriod string // calendar month in "YYYY-MM" form
	UserID        uuid.UUID
	Counters      UsageCounters
	PeriodStart   time.Time
	ArchivedAt    time.Time
	PlanType      string
}
