package redis

import "fmt"

// Key patterns for Redis keys. Message keys share a hash tag so that
// transactions over one message stay on one cluster slot.
const (
	KeyPatternMessage      = "courier:msg:{%s}"
	KeyPatternMessageRefs  = "courier:msg:{%s}:refs"
	KeyPatternTotal        = "courier:msg:{%s}:total"
	KeyPatternResponded    = "courier:msg:{%s}:responded"
	KeyPatternReference    = "courier:ref:%s"
	KeyPatternConversation = "courier:conv:%s"
	KeyPatternLock         = "courier:lock:%s"
	KeyPatternSignal       = "courier:signal:%s"
	KeyTimeouts            = "courier:timeouts"
	ReferencePattern       = "courier:ref:*"
)

func messageKey(id string) string      { return fmt.Sprintf(KeyPatternMessage, id) }
func messageRefsKey(id string) string  { return fmt.Sprintf(KeyPatternMessageRefs, id) }
func totalKey(id string) string        { return fmt.Sprintf(KeyPatternTotal, id) }
func respondedKey(id string) string    { return fmt.Sprintf(KeyPatternResponded, id) }
func referenceKey(ref string) string   { return fmt.Sprintf(KeyPatternReference, ref) }
func conversationKey(id string) string { return fmt.Sprintf(KeyPatternConversation, id) }
func lockKey(key string) string        { return fmt.Sprintf(KeyPatternLock, key) }
func signalKey(key string) string      { return fmt.Sprintf(KeyPatternSignal, key) }
