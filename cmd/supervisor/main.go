// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package main is the entry point for the AxonFlow Supervision Core
// (L08) service.
//
// The Supervision Core is the online policy decision point that:
// - Evaluates agent requests against deployed policies
// - Enforces rate limits, quotas, and resource caps
// - Detects statistical anomalies in agent behavior
// - Escalates uncertain decisions to a human approver
// - Maintains a hash-chained, signed audit trail of every decision
//
// Usage:
//
//	./supervisor
//
// Environment Variables:
//
//	PORT - HTTP server port (default: 8083)
//	DATABASE_URL - PostgreSQL connection string (falls back to an in-process store in dev_mode)
//	REDIS_URL - Redis URL for distributed rate limiting (falls back to an in-process store in dev_mode)
//	L08_DEV_MODE - "true" to force in-process adapters regardless of DATABASE_URL/REDIS_URL
//	L08_CONFIG_FILE - optional YAML overlay on top of environment-derived config
//
// For more information, see https://docs.getaxonflow.com
package main

import (
	"guardrail/platform/supervisor"
)

func main() {
	supervisor.Run()
}
