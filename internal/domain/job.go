package domain

import "encoding/json"

// DeliveryJob is the Dispatch Bus payload. It never carries secrets or
// more recipient PII than the worker needs to look the message back up
// in the Message Log Store — the worker rehydrates everything else.
type DeliveryJob struct {
	MessageID string  `json:"messageId"`
	SiteID    SiteID  `json:"siteId"`
	Channel   Channel `json:"channel"`
	Attempt   int     `json:"attempt"`
}

// jobWireAlias tolerates the snake_case site_id alias producers may send.
type jobWireAlias struct {
	MessageID string  `json:"messageId"`
	SiteID    SiteID  `json:"siteId"`
	SiteIDAlt SiteID  `json:"site_id"`
	Channel   Channel `json:"channel"`
	Attempt   int     `json:"attempt"`
}

// UnmarshalJSON accepts either "siteId" or "site_id" for producer
// compatibility, per the Dispatch Bus payload contract.
func (j *DeliveryJob) UnmarshalJSON(data []byte) error {
	var alias jobWireAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}
	j.MessageID = alias.MessageID
	j.Channel = alias.Channel
	j.Attempt = alias.Attempt
	if alias.SiteID != "" {
		j.SiteID = alias.SiteID
	} else {
		j.SiteID = alias.SiteIDAlt
	}
	return nil
}
