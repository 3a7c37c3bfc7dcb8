package events

import "testing"

func TestKafkaEventPublisher_ResolveTopic(t *testing.T) {
	p := &KafkaEventPublisher{topics: map[string]string{
		TopicOTPIssued:   "staging.contract.otp",
		TopicFullySigned: "",
	}}

	if got := p.resolveTopic(TopicOTPIssued); got != "staging.contract.otp" {
		t.Errorf("Expected the configured topic name, got %q", got)
	}
	if got := p.resolveTopic(TopicFullySigned); got != TopicFullySigned {
		t.Errorf("Empty mapping must fall back to the logical name, got %q", got)
	}
	if got := p.resolveTopic(TopicStatusChanged); got != TopicStatusChanged {
		t.Errorf("Unmapped topic must publish under its logical name, got %q", got)
	}
}
