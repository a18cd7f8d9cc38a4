// Package config reads /settings/noobs.conf, the INI file holding the
// display mode, language, and keyboard layout used when generating each
// installed OS's os_config.json (spec §4.5, §6).
package config

import (
	"gopkg.in/ini.v1"
)

// DisplayMode enumerates the config.txt append table (spec §4.5).
type DisplayMode int

const (
	DisplayHDMIPreferred DisplayMode = 0
	DisplayHDMIVGA       DisplayMode = 1
	DisplayPAL           DisplayMode = 2
	DisplayNTSC          DisplayMode = 3
)

// NoobsConf is the parsed content of noobs.conf (spec §6: "INI with keys
// display_mode (0-3), language, keyboard_layout").
type NoobsConf struct {
	DisplayMode DisplayMode
	Language    string
	Keyboard    string
}

// defaults mirror the source's QSettings::value(key, default) fallbacks
// (spec §4.5: "defaulting to 0/en/gb").
func defaults() NoobsConf {
	return NoobsConf{DisplayMode: DisplayHDMIPreferred, Language: "en", Keyboard: "gb"}
}

// Load reads noobs.conf from path. A missing file is not an error; it
// yields the documented defaults, matching QSettings's default-value
// semantics for keys it has never seen.
func Load(path string) (NoobsConf, error) {
	conf := defaults()

	cfg, err := ini.LooseLoad(path)
	if err != nil {
		return conf, err
	}

	sec := cfg.Section("")
	if sec.HasKey("display_mode") {
		conf.DisplayMode = DisplayMode(sec.Key("display_mode").MustInt(int(conf.DisplayMode)))
	}
	if sec.HasKey("language") {
		conf.Language = sec.Key("language").MustString(conf.Language)
	}
	if sec.HasKey("keyboard_layout") {
		conf.Keyboard = sec.Key("keyboard_layout").MustString(conf.Keyboard)
	}

	return conf, nil
}
