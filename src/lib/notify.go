package lib

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
)

// Notifier is the narrow interface to the out-of-scope notification system.
type Notifier interface {
	Send(template string, data map[string]any) error
}

const (
	TEMPLATE_BOOKING_CONFIRMED  = "booking_confirmed"
	TEMPLATE_RESERVATION_FAILED = "reservation_failed"
	TEMPLATE_MANUAL_REVIEW      = "manual_review_required"
)

// MailNotifier delivers templates as plain emails to an operator inbox.
type MailNotifier struct {
	From string
	To   string
}

func NewMailNotifier() *MailNotifier {
	return &MailNotifier{
		From: os.Getenv("NOTIFY_FROM_ADDRESS"),
		To:   os.Getenv("NOTIFY_TO_ADDRESS"),
	}
}

func (n *MailNotifier) Send(template string, data map[string]any) error {
	body, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return err
	}
	return SendMail(&SendMailInput{
		From:     n.From,
		FromName: "resv",
		To:       []string{n.To},
		Subject:  fmt.Sprintf("[resv] %s", template),
		Body:     string(body),
	})
}

// LogNotifier is used where no SMTP endpoint is configured.
type LogNotifier struct{}

func (n *LogNotifier) Send(template string, data map[string]any) error {
	log.Printf("[notify] %s: %v\n", template, data)
	return nil
}

// SNSNotifier fans notifications out to an SNS topic for operator tooling.
type SNSNotifier struct {
	Topic string
}

func NewSNSNotifier() *SNSNotifier {
	topic := os.Getenv("NOTIFY_SNS_TOPIC")
	if topic == "" {
		topic = "ReservationAlerts"
	}
	return &SNSNotifier{Topic: topic}
}

func (n *SNSNotifier) Send(template string, data map[string]any) error {
	client := AWSGetSNSClient()
	if client == nil {
		return fmt.Errorf("sns client unavailable")
	}
	data["template"] = template
	body, err := json.Marshal(data)
	if err != nil {
		return err
	}
	topicArn := GetTopicArn(n.Topic)
	out, err := client.Publish(context.Background(), &sns.PublishInput{
		TopicArn: aws.String(topicArn),
		Subject:  aws.String(template),
		Message:  aws.String(string(body)),
	})
	if err != nil {
		log.Printf("Could not publish to %s: %s\n", topicArn, err.Error())
		return err
	}
	log.Printf("Published %s notification: %s\n", template, *out.MessageId)
	return nil
}
