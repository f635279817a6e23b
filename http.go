//  Copyright 2023 Stealth Rocket, Inc.
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

package knobprof

import "net/http"

// ServeHTTP exposes the profiler's current in-memory state as a pprof
// profile, the native-executable equivalent of net/http/pprof's handlers,
// intended to be mounted at e.g. "/debug/knobprof/profile".
func (p *Profiler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	prof, err := p.ToPprofProfile()
	if err != nil {
		serveError(w, http.StatusInternalServerError, err.Error())
		return
	}
	serveProfile(w, prof)
}
