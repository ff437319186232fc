package history

import (
	"fmt"

	"github.com/rudransh-shrivastava/peer-chat/internal/db"
	"gorm.io/gorm"
)

// SQL stores lines in the history_lines table. Order is the auto-increment id.
type SQL struct {
	DB *gorm.DB
}

// NewSQL clears any lines left by a previous run; history belongs to one
// process lifetime.
func NewSQL(gdb *gorm.DB) (*SQL, error) {
	if err := gdb.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&db.HistoryLine{}).Error; err != nil {
		return nil, fmt.Errorf("clearing history: %w", err)
	}
	return &SQL{DB: gdb}, nil
}

func (s *SQL) Append(line string) error {
	return s.DB.Create(&db.HistoryLine{Line: line}).Error
}

func (s *SQL) Snapshot() ([]string, error) {
	var lines []string
	if err := s.DB.Model(&db.HistoryLine{}).Order("id asc").Pluck("line", &lines).Error; err != nil {
		return nil, fmt.Errorf("reading history: %w", err)
	}
	if lines == nil {
		lines = []string{}
	}
	return lines, nil
}

func (s *SQL) Len() int {
	var count int64
	if err := s.DB.Model(&db.HistoryLine{}).Count(&count).Error; err != nil {
		return 0
	}
	return int(count)
}
