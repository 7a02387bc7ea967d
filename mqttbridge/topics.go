package mqttbridge

import (
	"strings"

	"github.com/arloliu/go-xsig/xsig"
)

// DefaultTopicPrefix is the root of every topic used by the bridge.
const DefaultTopicPrefix = "xsig"

// Status payloads published on the status topic.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// Topics builds the topic names under a prefix.
type Topics struct {
	Prefix string
}

// State returns the retained topic carrying the value of a join.
func (t Topics) State(id xsig.JoinID) string { return t.Prefix + "/state/" + string(id) }

// Status returns the retained topic carrying the control-system availability.
func (t Topics) Status() string { return t.Prefix + "/status" }

// Command returns the wildcard topic the bridge subscribes to for commands.
func (t Topics) Command() string { return t.Prefix + "/command/#" }

// commandSuffix returns the part of topic after "<prefix>/command/".
func (t Topics) commandSuffix(topic string) (string, bool) {
	return strings.CutPrefix(topic, t.Prefix+"/command/")
}
