package validator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/haukened/rr-filter/internal/filter/domain"
)

// ValidateJSON checks a serialized ruleset artifact. Before the typed checks
// of Validate it reports what a typed decode would hide, such as missing
// fields, non-integer numbers and wrong JSON types.
func (v *Validator) ValidateJSON(ctx context.Context, data []byte) (Report, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	var rep Report
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw []any
	if err := dec.Decode(&raw); err != nil {
		rep.addf("ruleset must be a JSON array of rules: %v", err)
		return v.done(rep, start), nil
	}

	pass := newPass(&rep, v.limits)
	for i, elem := range raw {
		if err := ctx.Err(); err != nil {
			return v.abort(err, start)
		}
		obj, ok := elem.(map[string]any)
		if !ok {
			rep.addf("rule[%d]: must be an object", i)
			continue
		}
		id, idOK := v.checkRaw(&rep, i, obj)
		label := fmt.Sprintf("rule[%d]", i)
		if idOK {
			label = ruleLabel(i, int(id))
			v.checkID(&rep, label, int(id))
		}
		if rawShapeOK(obj) {
			var r domain.CompiledRule
			if err := remarshal(withoutID(obj), &r); err != nil {
				rep.addf("%s: %v", label, err)
			} else {
				v.checkBody(&rep, label, r)
			}
		}
		if idOK {
			pass.record(i, int(id), actionOf(obj))
		}
	}
	pass.finish(len(raw))
	return v.done(rep, start), nil
}

// checkRaw reports missing and mistyped fields. It returns the rule id when
// the id field is a usable integer.
func (v *Validator) checkRaw(rep *Report, i int, obj map[string]any) (int64, bool) {
	for _, f := range []string{"id", "priority", "action", "condition"} {
		if _, ok := obj[f]; !ok {
			rep.addf("rule[%d]: missing required field %q", i, f)
		}
	}
	id, idOK := integer(obj["id"])
	if _, present := obj["id"]; present && !idOK {
		rep.addf("rule[%d]: id must be an integer", i)
	}
	if p, present := obj["priority"]; present {
		if _, ok := integer(p); !ok {
			rep.addf("rule[%d]: priority must be an integer", i)
		}
	}
	if a, present := obj["action"]; present {
		am, ok := a.(map[string]any)
		if !ok {
			rep.addf("rule[%d]: action must be an object", i)
		} else if _, ok := am["type"].(string); !ok {
			rep.addf("rule[%d]: action.type must be a string", i)
		}
	}
	if c, present := obj["condition"]; present {
		cm, ok := c.(map[string]any)
		if !ok {
			rep.addf("rule[%d]: condition must be an object", i)
		} else {
			checkRawCondition(rep, i, cm)
		}
	}
	return id, idOK
}

func checkRawCondition(rep *Report, i int, c map[string]any) {
	for _, f := range []string{"urlFilter", "domainType"} {
		if val, ok := c[f]; ok {
			if _, isStr := val.(string); !isStr {
				rep.addf("rule[%d]: condition.%s must be a string", i, f)
			}
		}
	}
	if val, ok := c["isUrlFilterCaseSensitive"]; ok {
		if _, isBool := val.(bool); !isBool {
			rep.addf("rule[%d]: condition.isUrlFilterCaseSensitive must be a boolean", i)
		}
	}
	if val, ok := c["resourceTypes"]; ok {
		arr, isArr := val.([]any)
		if !isArr {
			rep.addf("rule[%d]: condition.resourceTypes must be an array", i)
		}
		for k, e := range arr {
			if _, isStr := e.(string); !isStr {
				rep.addf("rule[%d]: condition.resourceTypes[%d] must be a string", i, k)
			}
		}
	}
	for _, f := range []string{"requestDomains", "initiatorDomains", "excludedInitiatorDomains"} {
		val, ok := c[f]
		if !ok {
			continue
		}
		arr, isArr := val.([]any)
		if !isArr {
			rep.addf("rule[%d]: condition.%s must be an array", i, f)
			continue
		}
		for k, e := range arr {
			if _, isStr := e.(string); !isStr {
				rep.addf("rule[%d]: condition.%s[%d] must be a string", i, f, k)
			}
		}
	}
}

// rawShapeOK reports whether every field has the JSON type the typed decode
// expects, so remarshal cannot fail on types already reported.
func rawShapeOK(obj map[string]any) bool {
	if _, ok := integer(obj["priority"]); !ok {
		return false
	}
	a, ok := obj["action"].(map[string]any)
	if !ok {
		return false
	}
	if _, ok := a["type"].(string); !ok {
		return false
	}
	c, ok := obj["condition"].(map[string]any)
	if !ok {
		return false
	}
	for _, f := range []string{"urlFilter", "domainType"} {
		if val, present := c[f]; present {
			if _, ok := val.(string); !ok {
				return false
			}
		}
	}
	if val, present := c["isUrlFilterCaseSensitive"]; present {
		if _, ok := val.(bool); !ok {
			return false
		}
	}
	for _, f := range []string{"resourceTypes", "requestDomains", "initiatorDomains", "excludedInitiatorDomains"} {
		val, present := c[f]
		if !present {
			continue
		}
		arr, ok := val.([]any)
		if !ok {
			return false
		}
		for _, e := range arr {
			if _, ok := e.(string); !ok {
				return false
			}
		}
	}
	return true
}

func actionOf(obj map[string]any) domain.ActionType {
	if a, ok := obj["action"].(map[string]any); ok {
		if t, ok := a["type"].(string); ok {
			return domain.ActionType(t)
		}
	}
	return ""
}

// integer accepts JSON numbers without a fractional part or exponent.
func integer(v any) (int64, bool) {
	n, ok := v.(json.Number)
	if !ok {
		return 0, false
	}
	i, err := strconv.ParseInt(n.String(), 10, 64)
	if err != nil {
		return 0, false
	}
	return i, true
}

// withoutID copies obj minus the id field, which is checked separately and may
// not decode into an int.
func withoutID(obj map[string]any) map[string]any {
	out := make(map[string]any, len(obj))
	for k, val := range obj {
		if k != "id" {
			out[k] = val
		}
	}
	return out
}

func remarshal(obj map[string]any, out *domain.CompiledRule) error {
	b, err := json.Marshal(obj)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}
