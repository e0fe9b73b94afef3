package speech

import "strings"

// DefaultVoice 是未配置音色时使用的英文女声。
const DefaultVoice = "en_female_amy_jupiter_bigtts"

const (
	ttsResourceDefault = "volc.service_type.10029"
	ttsResourceMega    = "volc.megatts.default"
	ttsResourceSeed    = "seed-tts-2.0"
)

var voiceAliases = map[string]string{
	"lisa":       DefaultVoice,
	"en_default": DefaultVoice,
	"en_male":    "en_male_corey_emo_v2_mars_bigtts",
	"zh_default": "zh_female_vv_uranus_bigtts",
}

// seedHints 命中任一关键字的音色优先使用 seed-tts-2.0 资源。
var seedHints = []string{
	"bigtts", "seed", "megatts", "uranus", "venus", "jupiter",
	"saturn", "neptune", "mercury", "pluto", "mars",
}

// NormalizeVoiceAlias 把别名映射为火山引擎音色 ID，未知值原样返回。
func NormalizeVoiceAlias(voice string) string {
	voice = strings.TrimSpace(voice)
	if mapped, ok := voiceAliases[strings.ToLower(voice)]; ok {
		return mapped
	}
	return voice
}

func resolveTTSResourceCandidates(voice string) []string {
	voice = strings.TrimSpace(voice)
	if voice == "" {
		return []string{ttsResourceDefault, ttsResourceSeed}
	}
	if strings.HasPrefix(voice, "S_") {
		return []string{ttsResourceMega}
	}

	normalized := strings.ToLower(voice)
	for _, hint := range seedHints {
		if strings.Contains(normalized, hint) {
			return []string{ttsResourceSeed, ttsResourceDefault}
		}
	}
	return []string{ttsResourceDefault, ttsResourceSeed}
}

// resolveTTSSpeakerCandidates 返回按优先级去重后的候选音色，最后兜底 DefaultVoice。
func resolveTTSSpeakerCandidates(requested, configured string) []string {
	var candidates []string
	add := func(s string) {
		s = NormalizeVoiceAlias(s)
		if s == "" {
			return
		}
		for _, existing := range candidates {
			if strings.EqualFold(existing, s) {
				return
			}
		}
		candidates = append(candidates, s)
	}

	add(requested)
	add(configured)
	add(DefaultVoice)
	return candidates
}

func isResourceMismatchError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "resource ID is mismatched with speaker related resource")
}
