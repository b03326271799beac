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

package models

import "time"

// Receipt indexes a committed transition
type Receipt struct {
	Time       time.Time `gorm:"index"`
	TxID       string    `gorm:"uniqueIndex;size:36;not null"`
	Op         string    `gorm:"index;size:64;not null"`
	Sender     []byte    `gorm:"index;size:20;not null"`
	ID         uint      `gorm:"primarykey"`
	Block      uint64    `gorm:"uniqueIndex;not null"`
	EventCount int
}

func (Receipt) TableName() string {
	return "receipt"
}

// Event is one emitted event with its payload as JSON
type Event struct {
	Type      string `gorm:"index;size:64;not null"`
	Component string `gorm:"index;size:32;not null"`
	Data      []byte
	ID        uint   `gorm:"primarykey"`
	Block     uint64 `gorm:"uniqueIndex:idx_event_block_position,priority:1;not null"`
	Position  uint32 `gorm:"uniqueIndex:idx_event_block_position,priority:2;not null"`
}

func (Event) TableName() string {
	return "event"
}

// CommitBlock tracks the last block applied to the projections
type CommitBlock struct {
	ID    uint `gorm:"primarykey"`
	Block uint64
}

func (CommitBlock) TableName() string {
	return "commit_block"
}
