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

// Transfer is an EnTo balance movement. Amount is a base-unit decimal
// string.
type Transfer struct {
	Time        time.Time
	Amount      string `gorm:"size:78;not null"`
	FromAddress []byte `gorm:"index;size:20;not null"`
	ToAddress   []byte `gorm:"index;size:20;not null"`
	ID          uint   `gorm:"primarykey"`
	Block       uint64 `gorm:"index;not null"`
}

func (Transfer) TableName() string {
	return "transfer"
}
