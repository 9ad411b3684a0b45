package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Inbound field codes.
const (
	FieldService           = "f000"
	FieldMarker            = "f001"
	FieldRoute             = "f002"
	FieldAppID             = "f003"
	FieldAmount            = "f004"
	FieldMobileNumber      = "f005"
	FieldUsername          = "f006"
	FieldEncryptedPassword = "f007"
	FieldPassword          = "f008"
	FieldDeviceID          = "f009"
	FieldUniqueID          = "f010"
)

var RequiredFields = []string{
	FieldService,
	FieldMarker,
	FieldRoute,
	FieldAppID,
	FieldAmount,
	FieldMobileNumber,
	FieldUsername,
	FieldEncryptedPassword,
	FieldPassword,
	FieldDeviceID,
	FieldUniqueID,
}

const (
	StatusMarker = "BASE"
	StatusSuffix = "Status"
	TargetLocal  = "local"
)

// RequestFields holds the f000..f010 slots of an inbound request.
type RequestFields map[string]string

func NewRequestFields(raw map[string]interface{}) RequestFields {
	fields := make(RequestFields, len(raw))
	for k, v := range raw {
		switch val := v.(type) {
		case nil:
			continue
		case string:
			fields[k] = val
		case json.Number:
			fields[k] = val.String()
		case float64:
			fields[k] = strings.TrimSuffix(strings.TrimRight(fmt.Sprintf("%f", val), "0"), ".")
		default:
			fields[k] = fmt.Sprint(val)
		}
	}
	return fields
}

// Missing returns the required codes that are absent or blank.
func (f RequestFields) Missing() []string {
	var missing []string
	for _, code := range RequiredFields {
		if strings.TrimSpace(f[code]) == "" {
			missing = append(missing, code)
		}
	}
	return missing
}

func (f RequestFields) Clone() RequestFields {
	out := make(RequestFields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

func (f RequestFields) ToMap() map[string]interface{} {
	out := make(map[string]interface{}, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

type RuleAction string

const (
	ActionOutput  RuleAction = "OUTPUT"
	ActionForward RuleAction = "FORWARD"
	ActionError   RuleAction = "ERROR"
)

type RulePhase string

const (
	PhaseRequest  RulePhase = "request"
	PhaseResponse RulePhase = "response"
)

type RuleKey struct {
	AppID       string
	ServiceName string
	RouteName   string
	Phase       RulePhase
}

func (k RuleKey) String() string {
	return fmt.Sprintf("%s/%s/%s/%s", k.AppID, k.ServiceName, k.RouteName, k.Phase)
}

func (k RuleKey) IsStatusQuery() bool {
	return strings.HasSuffix(k.RouteName, StatusSuffix)
}

type ResponseTemplate struct {
	Status     string `json:"status"`
	Type       string `json:"type"`
	Message    string `json:"message"`
	Version    string `json:"version"`
	AppName    string `json:"app_name"`
	EntityName string `json:"entity_name"`
	Country    string `json:"country"`
}

// Rule is the stored routing decision for one (app, service, route, phase) key.
type Rule struct {
	ID          string           `json:"id" gorm:"primaryKey;type:uuid"`
	AppID       string           `json:"app_id" gorm:"not null;uniqueIndex:idx_routing_rule_key"`
	ServiceName string           `json:"service_name" gorm:"not null;uniqueIndex:idx_routing_rule_key"`
	RouteName   string           `json:"route_name" gorm:"not null;uniqueIndex:idx_routing_rule_key"`
	Phase       RulePhase        `json:"phase" gorm:"not null;uniqueIndex:idx_routing_rule_key"`
	Action      RuleAction       `json:"action" gorm:"not null"`
	Target      string           `json:"target"`
	Template    ResponseTemplate `json:"response_template" gorm:"embedded;embeddedPrefix:tpl_"`
	CreatedAt   time.Time        `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt   time.Time        `json:"updated_at" gorm:"autoUpdateTime"`
}

func (Rule) TableName() string {
	return "routing_rules"
}

func (r *Rule) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return nil
}

func (r *Rule) Key() RuleKey {
	return RuleKey{AppID: r.AppID, ServiceName: r.ServiceName, RouteName: r.RouteName, Phase: r.Phase}
}

// SameDefinition reports whether two rules route identically.
func (r *Rule) SameDefinition(other *Rule) bool {
	if other == nil {
		return false
	}
	return r.Key() == other.Key() &&
		r.Action == other.Action &&
		r.Target == other.Target &&
		r.Template == other.Template
}

type ServicePair struct {
	I int    `json:"i"`
	V string `json:"v"`
}

type ProviderResult struct {
	StatusCode int         `json:"status_code"`
	Data       interface{} `json:"data"`
}

// Envelope is the response returned to the caller for every routed request.
type Envelope struct {
	Status           string                 `json:"status"`
	Type             string                 `json:"type"`
	Message          string                 `json:"message"`
	Version          string                 `json:"version"`
	Action           RuleAction             `json:"action"`
	Command          string                 `json:"command"`
	AppName          string                 `json:"appName,omitempty"`
	ServiceURL       string                 `json:"serviceurl,omitempty"`
	ServicePayload   []ServicePair          `json:"servicepayload,omitempty"`
	ProviderResponse *ProviderResult        `json:"provider_response,omitempty"`
	TransactionData  map[string]interface{} `json:"-"`
	StatusQuery      bool                   `json:"-"`
}

// MarshalJSON always emits transaction_data for status queries, null when not found.
func (e Envelope) MarshalJSON() ([]byte, error) {
	type alias Envelope
	if !e.StatusQuery {
		return json.Marshal(alias(e))
	}
	return json.Marshal(struct {
		alias
		TransactionData map[string]interface{} `json:"transaction_data"`
	}{alias(e), e.TransactionData})
}

func (e *Envelope) ToMap() map[string]interface{} {
	data, err := json.Marshal(e)
	if err != nil {
		return map[string]interface{}{"status": e.Status, "message": e.Message}
	}
	out := make(map[string]interface{})
	if err := json.Unmarshal(data, &out); err != nil {
		return map[string]interface{}{"status": e.Status, "message": e.Message}
	}
	return out
}
