package domain

type RoomID string

// Settings is the per-room policy bag. Defaults come from config.
type Settings struct {
	ScreenShareAllowed bool `json:"screenShareAllowed" mapstructure:"screen_share_allowed"`
	ChatAllowed        bool `json:"chatAllowed" mapstructure:"chat_allowed"`
	CanvasAllowed      bool `json:"canvasAllowed" mapstructure:"canvas_allowed"`
	MaxParticipants    int  `json:"maxParticipants" mapstructure:"max_participants"`
	MuteOnJoin         bool `json:"muteOnJoin" mapstructure:"mute_on_join"`
	VideoOffOnJoin     bool `json:"videoOffOnJoin" mapstructure:"video_off_on_join"`
	WaitingRoomEnabled bool `json:"waitingRoomEnabled" mapstructure:"waiting_room_enabled"`
}

func DefaultSettings() Settings {
	return Settings{
		ScreenShareAllowed: true,
		ChatAllowed:        true,
		CanvasAllowed:      true,
		MaxParticipants:    50,
		WaitingRoomEnabled: false,
	}
}

// SettingsPatch carries a partial update; nil fields are left untouched.
type SettingsPatch struct {
	ScreenShareAllowed *bool `json:"screenShareAllowed,omitempty"`
	ChatAllowed        *bool `json:"chatAllowed,omitempty"`
	CanvasAllowed      *bool `json:"canvasAllowed,omitempty"`
	MaxParticipants    *int  `json:"maxParticipants,omitempty"`
	MuteOnJoin         *bool `json:"muteOnJoin,omitempty"`
	VideoOffOnJoin     *bool `json:"videoOffOnJoin,omitempty"`
	WaitingRoomEnabled *bool `json:"waitingRoomEnabled,omitempty"`
}

func (s Settings) Apply(p SettingsPatch) Settings {
	if p.ScreenShareAllowed != nil {
		s.ScreenShareAllowed = *p.ScreenShareAllowed
	}
	if p.ChatAllowed != nil {
		s.ChatAllowed = *p.ChatAllowed
	}
	if p.CanvasAllowed != nil {
		s.CanvasAllowed = *p.CanvasAllowed
	}
	if p.MaxParticipants != nil && *p.MaxParticipants > 0 {
		s.MaxParticipants = *p.MaxParticipants
	}
	if p.MuteOnJoin != nil {
		s.MuteOnJoin = *p.MuteOnJoin
	}
	if p.VideoOffOnJoin != nil {
		s.VideoOffOnJoin = *p.VideoOffOnJoin
	}
	if p.WaitingRoomEnabled != nil {
		s.WaitingRoomEnabled = *p.WaitingRoomEnabled
	}
	return s
}
