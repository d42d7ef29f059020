package audit

import (
	"log"

	"overseer/internal/router"
)

const previewLimit = 200

// RouterHook adapts a Signer to the router's audit hook interface. The
// router already dispatches hooks on their own goroutine, so a slow or
// failing signer never touches the routed call.
func RouterHook(s Signer) router.AuditHookFunc {
	return func(rec router.HookRecord) {
		if rec.Cached || rec.Result == nil {
			return
		}
		preview := rec.Result.Content
		if len(preview) > previewLimit {
			preview = preview[:previewLimit]
		}
		if _, err := s.Sign(rec.Capability, rec.Args, preview, rec.Duration.Milliseconds()); err != nil {
			log.Printf("[audit] sign %s: %v", rec.Capability, err)
		}
	}
}
