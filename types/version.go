package types

type Version struct {
	Version               string `json:"version"`
	MinimumWimsVersion    string `json:"minimumWimsVersion"`
	ScoreFieldWimsVersion string `json:"scoreFieldWimsVersion"`
}

var CurrentVersion = Version{
	Version:               "1.3.0",
	MinimumWimsVersion:    "4.15.0",
	ScoreFieldWimsVersion: "4.18.0",
}
