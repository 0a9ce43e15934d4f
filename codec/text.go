package codec

import (
	"bytes"
	"encoding/json"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/teranos/statetree/errors"
	"github.com/teranos/statetree/st"
)

// JSON is the default codec and the one exchanged with browsers and tools.
type JSON struct{}

func (JSON) Name() string { return "json" }

func (JSON) Marshal(u st.Update) ([]byte, error) {
	return json.Marshal(u.Wire())
}

func (JSON) Unmarshal(data []byte) (st.Update, error) {
	var w st.WireUpdate
	if err := json.Unmarshal(data, &w); err != nil {
		return st.Update{}, corrupt(err, "json")
	}
	return fromWire(w, "json")
}

// YAML is meant for humans reading or editing snapshots.
type YAML struct{}

func (YAML) Name() string { return "yaml" }

func (YAML) Marshal(u st.Update) ([]byte, error) {
	return yaml.Marshal(u.Wire())
}

func (YAML) Unmarshal(data []byte) (st.Update, error) {
	var w st.WireUpdate
	if err := yaml.Unmarshal(data, &w); err != nil {
		return st.Update{}, corrupt(err, "yaml")
	}
	return fromWire(w, "yaml")
}

// TOML is used for fixture files. Unknown keys are rejected.
type TOML struct{}

func (TOML) Name() string { return "toml" }

func (TOML) Marshal(u st.Update) ([]byte, error) {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(u.Wire()); err != nil {
		return nil, errors.Wrap(err, "toml: encode")
	}
	return buf.Bytes(), nil
}

func (TOML) Unmarshal(data []byte) (st.Update, error) {
	var w st.WireUpdate
	md, err := toml.Decode(string(data), &w)
	if err != nil {
		return st.Update{}, corrupt(err, "toml")
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return st.Update{}, errors.Mark(
			errors.Newf("toml: unknown keys %v", undecoded), ErrCorrupt)
	}
	return fromWire(w, "toml")
}

func fromWire(w st.WireUpdate, codec string) (st.Update, error) {
	u, err := w.Update()
	if err != nil {
		return st.Update{}, corrupt(err, codec)
	}
	return u, nil
}
