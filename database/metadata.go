// Copyright 2025 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package database

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
	"gorm.io/plugin/opentelemetry/tracing"

	"github.com/blinklabs-io/enledger/database/models"
)

const commitBlockRowId = 1

// metadataStore holds the sqlite projections
type metadataStore struct {
	db          *gorm.DB
	logger      *slog.Logger
	timerVacuum *time.Timer
	timerMutex  sync.Mutex
	vacuumWG    sync.WaitGroup
	dataDir     string
	closed      bool
}

func openMetadataStore(dataDir string, logger *slog.Logger) (*metadataStore, error) {
	var dsn string
	if dataDir == "" {
		// Each in-memory store gets its own name so that stores opened by the
		// same process do not share tables
		dsn = fmt.Sprintf("file:enledger-%s?mode=memory&cache=shared", uuid.NewString())
	} else {
		if _, err := os.Stat(dataDir); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("failed to read data dir: %w", err)
			}
			if err := os.MkdirAll(dataDir, fs.ModePerm); err != nil {
				return nil, fmt.Errorf("failed to create data dir: %w", err)
			}
		}
		// WAL journal mode, disable sync on write, increase cache size to 50MB (from 2MB)
		dsn = fmt.Sprintf(
			"file:%s?_pragma=journal_mode(WAL)&_pragma=sync(OFF)&_pragma=cache_size(-50000)",
			filepath.Join(dataDir, "metadata.sqlite"),
		)
	}
	db, err := gorm.Open(
		sqlite.Open(dsn),
		&gorm.Config{
			Logger:                 gormlogger.Discard,
			SkipDefaultTransaction: true,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("open metadata store: %w", err)
	}
	m := &metadataStore{
		db:      db,
		logger:  logger,
		dataDir: dataDir,
	}
	if err := db.Use(tracing.NewPlugin(tracing.WithoutMetrics())); err != nil {
		return nil, err
	}
	for _, model := range models.MigrateModels {
		m.logger.Debug(fmt.Sprintf("creating table: %T", model))
		if err := db.AutoMigrate(model); err != nil {
			return nil, err
		}
	}
	m.scheduleDailyVacuum()
	return m, nil
}

func (m *metadataStore) runVacuum() error {
	m.timerMutex.Lock()
	if m.dataDir == "" || m.closed {
		m.timerMutex.Unlock()
		return nil
	}
	m.vacuumWG.Add(1)
	m.timerMutex.Unlock()
	defer m.vacuumWG.Done()
	return m.db.Exec("VACUUM").Error
}

func (m *metadataStore) scheduleDailyVacuum() {
	m.timerMutex.Lock()
	defer m.timerMutex.Unlock()
	if m.closed || m.dataDir == "" {
		return
	}
	if m.timerVacuum != nil {
		m.timerVacuum.Stop()
	}
	m.timerVacuum = time.AfterFunc(24*time.Hour, func() {
		m.logger.Debug("running vacuum on sqlite metadata database")
		defer m.scheduleDailyVacuum()
		if err := m.runVacuum(); err != nil {
			m.logger.Error(
				"failed to free unused space in metadata store",
				"component", "database",
				"error", err,
			)
		}
	})
}

func (m *metadataStore) commitBlock() (uint64, error) {
	var row models.CommitBlock
	result := m.db.First(&row)
	if result.Error != nil {
		// It's not an error if there's no records found
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, result.Error
	}
	return row.Block, nil
}

func setCommitBlock(db *gorm.DB, block uint64) error {
	row := models.CommitBlock{ID: commitBlockRowId, Block: block}
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"block"}),
	}).Create(&row).Error
}

func (m *metadataStore) Close() error {
	m.timerMutex.Lock()
	m.closed = true
	if m.timerVacuum != nil {
		m.timerVacuum.Stop()
		m.timerVacuum = nil
	}
	m.timerMutex.Unlock()
	m.vacuumWG.Wait()
	sqlDB, err := m.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
