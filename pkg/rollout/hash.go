package rollout

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/tidecraft/ballast/pkg/types"
)

// TemplateHash fingerprints the effective template of a workload: the
// declared template plus the environment produced by config resolution, so a
// config-only change rolls instances the same way an image change does.
// Replica count is deliberately excluded; scaling is not a rollout.
func TemplateHash(t *types.Template, env map[string]string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "image=%s\nport=%d\nclaim=%s\nmount=%s\n", t.Image, t.Port, t.VolumeClaim, t.MountPath)

	if t.Probes != nil {
		writeProbe(&b, "liveness", t.Probes.Liveness)
		writeProbe(&b, "readiness", t.Probes.Readiness)
	}

	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "env.%s=%s\n", k, env[k])
	}

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:8])
}

func writeProbe(b *strings.Builder, track string, spec *types.ProbeSpec) {
	if spec == nil {
		return
	}
	fmt.Fprintf(b, "%s=%s/%s/%s/%s/%d\n", track, spec.Path, spec.InitialDelay, spec.Period, spec.Timeout, spec.FailureThreshold)
}
