package show

import "github.com/openmic/showrunner/go/clients/showapi"

// ModuleKey identifies a runtime UI module.
type ModuleKey string

const (
	ModuleChannels   ModuleKey = "channels"
	ModuleMessaging  ModuleKey = "messaging"
	ModulePerforming ModuleKey = "performing"
	ModuleVoting     ModuleKey = "voting"
	ModuleDraw       ModuleKey = "draw"
	ModuleBuzzer     ModuleKey = "buzzer"
)

const extendedVotingName = "Extended Voting"

// moduleForCapability maps a catalog capability name to its module key.
// "Voting" and "Extended Voting" are mutually exclusive at data entry but
// share one runtime module.
func moduleForCapability(name string) (ModuleKey, bool) {
	switch name {
	case "Messaging":
		return ModuleMessaging, true
	case "Performing":
		return ModulePerforming, true
	case "Voting", extendedVotingName:
		return ModuleVoting, true
	case "Draw":
		return ModuleDraw, true
	case "Buzzer":
		return ModuleBuzzer, true
	default:
		return "", false
	}
}

// IsExtendedVoting reports whether the show's capability ids include the
// extended-voting capability per the catalog.
func IsExtendedVoting(capabilityIDs []int, catalog []showapi.HiModule) bool {
	names := catalogNames(catalog)
	for _, id := range capabilityIDs {
		if names[id] == extendedVotingName {
			return true
		}
	}
	return false
}

// ResolveModules maps a show's capability ids to the ordered list of modules
// to display. Unknown ids are ignored rather than failing the whole resolve.
// The channels module is prepended iff the user or the venue has at least one
// channel and the show is not extended voting (takeover is disallowed there).
// Remaining modules keep the order the ids appear in; an empty id list or an
// unloaded catalog yields an empty result, which the caller must read as
// "not ready".
func ResolveModules(capabilityIDs []int, catalog []showapi.HiModule, userChannels, venueChannels int, extendedVoting bool) []ModuleKey {
	if len(capabilityIDs) == 0 || len(catalog) == 0 {
		return nil
	}

	names := catalogNames(catalog)
	seen := make(map[ModuleKey]bool, len(capabilityIDs))
	out := make([]ModuleKey, 0, len(capabilityIDs)+1)

	if (userChannels > 0 || venueChannels > 0) && !extendedVoting {
		out = append(out, ModuleChannels)
		seen[ModuleChannels] = true
	}

	for _, id := range capabilityIDs {
		key, ok := moduleForCapability(names[id])
		if !ok || seen[key] {
			continue
		}
		out = append(out, key)
		seen[key] = true
	}
	return out
}

func catalogNames(catalog []showapi.HiModule) map[int]string {
	names := make(map[int]string, len(catalog))
	for _, m := range catalog {
		names[m.ID] = m.Name
	}
	return names
}
