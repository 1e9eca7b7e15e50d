// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import "github.com/kraklabs/mlingest/internal/ui"

// consoleReporter prints pipeline progress through the ui package. Any
// progress bar is cleared first so messages do not interleave with it.
type consoleReporter struct {
	progress *inputProgress
}

func (r consoleReporter) Step(msg string) {
	r.progress.Finish()
	ui.Info(msg)
}

func (r consoleReporter) Success(msg string) {
	r.progress.Finish()
	ui.Success(msg)
}

func (r consoleReporter) Failure(msg string, err error) {
	r.progress.Finish()
	if err != nil {
		ui.Errorf("%s %v", msg, err)
		return
	}
	ui.Error(msg)
}
