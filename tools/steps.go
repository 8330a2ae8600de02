package tools

import "math"

// StepModifications describes what replaying from each pipeline step can
// change. Steps missing from the map are not replay targets.
var StepModifications = map[string]string{
	"detect_silence":       "Silence cutting (sensitivity, threshold, cut mode)",
	"silence_cut":          "Silence cutting (re-runs from the cut)",
	"generate_pngs":        "Text color, font, size and style",
	"add_shadows":          "Shadows and visual effects",
	"apply_animations":     "Entrance and exit animations",
	"calculate_positions":  "Subtitle position on the canvas",
	"generate_backgrounds": "Backgrounds and cards (colors, style)",
	"motion_graphics":      "Motion graphics",
	"matting":              "Matting (person cut-out on/off)",
	"video_clipper":        "B-roll placement (regenerates the EDL)",
	"subtitle_pipeline":    "Final track layout and composition",
	"render":               "Re-render with the current payload",
}

type stepFamily int

const (
	familyOther stepFamily = iota
	familyTextStyle
	familySilence
	familyClipper
)

func familyOf(step string) stepFamily {
	switch step {
	case "generate_pngs", "classify", "load_template":
		return familyTextStyle
	case "detect_silence", "silence_cut":
		return familySilence
	case "video_clipper":
		return familyClipper
	default:
		return familyOther
	}
}

func (f stepFamily) hint(step string) string {
	switch f {
	case familySilence:
		return "Use the EXACT paths from modifiable_fields in replay_from_step. " +
			"To cut more aggressively lower min_silence_duration and threshold_offset. To leave more breathing room raise them."
	case familyClipper:
		return "The video clipper regenerates the whole EDL. To reposition b-rolls call replay_from_step with modifications={}. " +
			"The step re-analyses the transcript and the available b-rolls."
	case familyTextStyle:
		return "Use the EXACT paths from modifiable_fields in replay_from_step. " +
			"Colors are [R,G,B,A] arrays. Fields ending in .value take ONLY the value, not the whole object."
	default:
		return "Step '" + step + "' is not a common replay target."
	}
}

// modifiableFields extracts the exact replay paths and current values for a
// step family. extra receives per-family statistics for the state summary.
func modifiableFields(f stepFamily, state, extra map[string]any) map[string]any {
	switch f {
	case familyTextStyle:
		return textStyleFields(state)
	case familySilence:
		return silenceFields(state, extra)
	case familyClipper:
		clipperStats(state, extra)
		return map[string]any{
			"_info": "The video clipper regenerates the whole EDL. To reposition b-rolls replay with empty modifications: {}. " +
				"The EDL cache is cleared automatically.",
		}
	}
	return nil
}

func textStyleFields(state map[string]any) map[string]any {
	def := obj(obj(state["text_styles"])["default"])
	fc := obj(def["font_config"])
	hl := obj(def["highlight"])
	bg := obj(def["background"])
	shadow := obj(def["shadow"])

	const p = "text_styles.default."
	fields := map[string]any{
		p + "font_config.font_color.value":  valueOf(fc, "font_color"),
		p + "font_config.font_family.value": valueOf(fc, "font_family"),
		p + "font_config.font_size.value":   valueOf(fc, "font_size"),
		p + "font_config.weight":            fc["weight"],
		p + "font_config.uppercase":         fc["uppercase"],
		p + "highlight.color.value":         valueOf(hl, "color"),
		p + "highlight.style.value":         valueOf(hl, "style"),
		p + "highlight.enabled.value":       valueOf(hl, "enabled"),
		p + "background.color.value":        valueOf(bg, "color"),
		p + "background.enabled":            bg["enabled"],
		p + "shadow.enabled.value":          valueOf(shadow, "enabled"),
	}
	if borders, ok := def["borders"].([]any); ok && len(borders) > 0 {
		first := obj(borders[0])
		fields[p+"borders[0].color_rgb"] = first["color_rgb"]
		fields[p+"borders[0].thickness"] = first["thickness"]
	}
	return fields
}

func silenceFields(state, extra map[string]any) map[string]any {
	opts := obj(state["options"])
	fields := map[string]any{
		"options.min_silence_duration": withDefault(opts, "min_silence_duration", 0.5),
		"options.threshold_offset":     withDefault(opts, "threshold_offset", 3),
		"options.silence_threshold":    opts["silence_threshold"],
		"options.min_speech_duration":  withDefault(opts, "min_speech_duration", 0.4),
		"options.cut_mode":             withDefault(opts, "cut_mode", "all_silences"),
		"options.trim_start":           opts["trim_start"],
		"options.trim_end":             opts["trim_end"],
	}

	if detection := state["silence_detection"]; detection != nil {
		var segs []any
		switch d := detection.(type) {
		case []any:
			segs = d
		case map[string]any:
			segs, _ = d["segments"].([]any)
		}
		total := 0.0
		for _, s := range segs {
			seg := obj(s)
			total += num(seg["end"]) - num(seg["start"])
		}
		extra["silence_stats"] = map[string]any{
			"segments_detected":     len(segs),
			"total_silence_seconds": math.Round(total*100) / 100,
		}
	}
	if cuts, ok := state["cut_timestamps"].([]any); ok && len(cuts) > 0 {
		extra["cut_stats"] = map[string]any{"segments_after_cut": len(cuts)}
	}
	return fields
}

func clipperStats(state, extra map[string]any) {
	track, ok := state["video_clipper_track"].([]any)
	if !ok || len(track) == 0 {
		return
	}
	summary := make([]map[string]any, 0, 10)
	for i, raw := range track {
		if i == 10 {
			break
		}
		p := obj(raw)
		src, _ := p["src"].(string)
		if src == "" {
			src = "N/A"
		} else if len(src) > 40 {
			src = src[len(src)-40:]
		}
		summary = append(summary, map[string]any{
			"src":           src,
			"start_time_ms": p["start_time"],
			"end_time_ms":   p["end_time"],
			"duration_ms":   num(p["end_time"]) - num(p["start_time"]),
		})
	}
	extra["video_clipper_stats"] = map[string]any{
		"b_roll_placements":  len(track),
		"placements_summary": summary,
	}
}

// summarizeTemplateConfig keeps the template identity and which sections
// it configures.
func summarizeTemplateConfig(v any) map[string]any {
	tc := obj(v)
	if len(tc) == 0 {
		return nil
	}
	mode := obj(tc["template-mode"])
	if len(mode) == 0 {
		mode = obj(tc["template_mode"])
	}
	id := tc["template_id"]
	if id == nil {
		id = tc["id"]
	}
	_, hasText := mode["text_styles"]
	_, hasAnim := mode["animation_config"]
	_, hasShadow := mode["shadow_config"]
	return map[string]any{
		"template_id":          id,
		"template_name":        tc["name"],
		"has_text_styles":      hasText,
		"has_animation_config": hasAnim,
		"has_shadow_config":    hasShadow,
	}
}

func obj(v any) map[string]any {
	m, _ := v.(map[string]any)
	if m == nil {
		return map[string]any{}
	}
	return m
}

// valueOf unwraps {value, sidecar_id} fields.
func valueOf(parent map[string]any, key string) any {
	field := parent[key]
	if m, ok := field.(map[string]any); ok {
		if v, ok := m["value"]; ok {
			return v
		}
	}
	return field
}

func withDefault(m map[string]any, key string, def any) any {
	if v, ok := m[key]; ok {
		return v
	}
	return def
}

func num(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	}
	return 0
}
