package eventsub

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Guliveer/twitchify-go/internal/helix"
)

// versionTwo and versionOne list the subscription types that work with a
// user's own token, by the version this library expects.
var (
	versionTwo = []string{
		"channel.update",
		"channel.follow",
	}
	versionOne = []string{
		"channel.subscribe",
		"channel.subscription.end",
		"channel.subscription.gift",
		"channel.subscription.message",
		"channel.cheer",
		"channel.raid",
		"channel.ban",
		"channel.unban",
		"channel.moderator.add",
		"channel.moderator.remove",
		"channel.chat.message",
		"channel.chat.notification",
		"channel.channel_points_custom_reward_redemption.add",
		"channel.channel_points_custom_reward_redemption.update",
		"channel.poll.begin",
		"channel.poll.end",
		"channel.prediction.begin",
		"channel.prediction.end",
		"channel.charity_campaign.donate",
		"channel.charity_campaign.start",
		"channel.charity_campaign.progress",
		"channel.charity_campaign.stop",
		"channel.goal.begin",
		"channel.goal.progress",
		"channel.goal.end",
		"channel.shoutout.create",
		"channel.shoutout.receive",
		"stream.online",
		"stream.offline",
		"user.update",
		"user.whisper.message",
	}
)

var catalog = func() map[string]string {
	m := make(map[string]string, len(versionOne)+len(versionTwo))
	for _, name := range versionOne {
		m[name] = "1"
	}
	for _, name := range versionTwo {
		m[name] = "2"
	}
	return m
}()

// Known returns the catalogued subscription types, sorted.
func Known() []string {
	names := make([]string, 0, len(catalog))
	for name := range catalog {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve fills in missing versions from the catalog. A subscription with an
// explicit version is passed through even when it is not catalogued.
func Resolve(subs []helix.Subscription) ([]helix.Subscription, error) {
	out := make([]helix.Subscription, 0, len(subs))
	seen := make(map[string]bool, len(subs))

	for _, sub := range subs {
		if sub.Name == "" {
			return nil, fmt.Errorf("subscription without a name")
		}
		if sub.Version == "" {
			version, ok := catalog[sub.Name]
			if !ok {
				return nil, fmt.Errorf("unknown subscription %q: set a version explicitly (known: %s)",
					sub.Name, strings.Join(Known(), ", "))
			}
			sub.Version = version
		}

		key := sub.Name + "/" + sub.Version
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, sub)
	}
	return out, nil
}
