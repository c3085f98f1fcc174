package models

import "time"

// RoomType is the discriminator stored in the `t` field. Livechat
// conversations are always "l"; other room types share the collection.
const RoomTypeLivechat = "l"

// Room is one livechat conversation document. Field names are the stored
// wire contract and must not change: existing documents were written by
// earlier versions of the product with exactly these keys.
type Room struct {
	ID   string `bson:"_id" json:"_id"`
	Type string `bson:"t" json:"t"`

	Open     *bool      `bson:"open,omitempty" json:"open,omitempty"`
	OnHold   *bool      `bson:"onHold,omitempty" json:"onHold,omitempty"`
	ClosedAt *time.Time `bson:"closedAt,omitempty" json:"closedAt,omitempty"`

	// waitingResponse is present while the visitor has sent a message the
	// agents have not answered yet; its absence means the room was responded
	// to (or never needed a response).
	WaitingResponse *bool `bson:"waitingResponse,omitempty" json:"waitingResponse,omitempty"`

	SLAID                     *string `bson:"slaId,omitempty" json:"slaId,omitempty"`
	EstimatedWaitingTimeQueue *int    `bson:"estimatedWaitingTimeQueue,omitempty" json:"estimatedWaitingTimeQueue,omitempty"`

	PriorityID     *string `bson:"priorityId,omitempty" json:"priorityId,omitempty"`
	PriorityWeight *int    `bson:"priorityWeight,omitempty" json:"priorityWeight,omitempty"`

	Omnichannel *OmnichannelMeta `bson:"omnichannel,omitempty" json:"omnichannel,omitempty"`

	DepartmentID        string   `bson:"departmentId,omitempty" json:"departmentId,omitempty"`
	DepartmentAncestors []string `bson:"departmentAncestors,omitempty" json:"departmentAncestors,omitempty"`

	Source   *Source   `bson:"source,omitempty" json:"source,omitempty"`
	Tags     []string  `bson:"tags,omitempty" json:"tags,omitempty"`
	ServedBy *AgentRef `bson:"servedBy,omitempty" json:"servedBy,omitempty"`
	Metrics  *Metrics  `bson:"metrics,omitempty" json:"metrics,omitempty"`

	Timestamp time.Time `bson:"ts" json:"ts"`
}

type OmnichannelMeta struct {
	PredictedVisitorAbandonmentAt *time.Time `bson:"predictedVisitorAbandonmentAt,omitempty" json:"predictedVisitorAbandonmentAt,omitempty"`
}

// Source records the channel the conversation arrived through. Alias is the
// human label when the installation named the channel; Type is the fallback.
type Source struct {
	Type  string `bson:"type" json:"type"`
	Alias string `bson:"alias,omitempty" json:"alias,omitempty"`
}

type AgentRef struct {
	ID       string `bson:"_id" json:"_id"`
	Username string `bson:"username,omitempty" json:"username,omitempty"`
}

type Metrics struct {
	ChatDuration *float64 `bson:"chatDuration,omitempty" json:"chatDuration,omitempty"`
}

// IsOnHold treats an absent onHold field and an explicit false the same
// way; callers must never distinguish the two.
func (r *Room) IsOnHold() bool {
	return r.OnHold != nil && *r.OnHold
}

func (r *Room) IsOpen() bool {
	return r.Open != nil && *r.Open
}
