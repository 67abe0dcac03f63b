// Package dynamo stores verification jobs in a single DynamoDB table, for
// deployments that keep job documents outside Postgres (jobs.backend:
// dynamodb).
//
// Items use PK "JOB#<id>" / SK "JOB". Listing goes through the GSI named
// by ListIndex, partitioned on a constant and sorted by creation time.
package dynamo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/ignite/campaign-engine/internal/domain"
	"github.com/ignite/campaign-engine/internal/repository"
)

const (
	ListIndex     = "gsi1"
	listPartition = "VERIFICATION_JOB"
	sortKey       = "JOB"
)

// API is the subset of the DynamoDB client used by JobStore.
type API interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

type jobItem struct {
	PK     string `dynamodbav:"PK"`
	SK     string `dynamodbav:"SK"`
	GSI1PK string `dynamodbav:"GSI1PK"`
	GSI1SK string `dynamodbav:"GSI1SK"`

	ID           string             `dynamodbav:"id"`
	Total        int                `dynamodbav:"total"`
	Processed    int                `dynamodbav:"processed"`
	Status       string             `dynamodbav:"status"`
	AdminEmail   string             `dynamodbav:"adminEmail"`
	JobType      string             `dynamodbav:"jobType"`
	Source       string             `dynamodbav:"source"`
	CampaignID   *string            `dynamodbav:"campaignId,omitempty"`
	CurrentEmail string             `dynamodbav:"currentEmail,omitempty"`
	Results      *domain.JobResults `dynamodbav:"results,omitempty"`
	Error        *string            `dynamodbav:"error,omitempty"`
	CreatedAt    time.Time          `dynamodbav:"createdAt"`
	StartedAt    *time.Time         `dynamodbav:"startedAt,omitempty"`
	CompletedAt  *time.Time         `dynamodbav:"completedAt,omitempty"`
}

func (it *jobItem) job() *domain.VerificationJob {
	return &domain.VerificationJob{
		ID:           it.ID,
		Total:        it.Total,
		Processed:    it.Processed,
		Status:       domain.JobStatus(it.Status),
		AdminEmail:   it.AdminEmail,
		JobType:      it.JobType,
		Source:       it.Source,
		CampaignID:   it.CampaignID,
		CurrentEmail: it.CurrentEmail,
		Results:      it.Results,
		Error:        it.Error,
		CreatedAt:    it.CreatedAt,
		StartedAt:    it.StartedAt,
		CompletedAt:  it.CompletedAt,
	}
}

func jobKey(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: "JOB#" + id},
		"SK": &types.AttributeValueMemberS{Value: sortKey},
	}
}

// JobStore implements the verification job store on DynamoDB.
type JobStore struct {
	client API
	table  string
	now    func() time.Time
}

func NewJobStore(client API, table string) *JobStore {
	return &JobStore{client: client, table: table, now: time.Now}
}

func (s *JobStore) CreateJob(ctx context.Context, job *domain.VerificationJob) error {
	job.CreatedAt = s.now().UTC()
	item := jobItem{
		PK:         "JOB#" + job.ID,
		SK:         sortKey,
		GSI1PK:     listPartition,
		GSI1SK:     job.CreatedAt.Format(time.RFC3339Nano) + "#" + job.ID,
		ID:         job.ID,
		Total:      job.Total,
		Processed:  job.Processed,
		Status:     string(job.Status),
		AdminEmail: job.AdminEmail,
		JobType:    job.JobType,
		Source:     job.Source,
		CampaignID: job.CampaignID,
		CreatedAt:  job.CreatedAt,
	}
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.table),
		Item:                av,
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	})
	if err != nil {
		return fmt.Errorf("put job to DynamoDB: %w", err)
	}
	return nil
}

func (s *JobStore) GetJob(ctx context.Context, id string) (*domain.VerificationJob, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            jobKey(id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get job from DynamoDB: %w", err)
	}
	if out.Item == nil {
		return nil, fmt.Errorf("job %s: %w", id, repository.ErrNotFound)
	}
	var it jobItem
	if err := attributevalue.UnmarshalMap(out.Item, &it); err != nil {
		return nil, fmt.Errorf("unmarshal job: %w", err)
	}
	return it.job(), nil
}

// ListJobs pages through the list index newest first, filtering by status
// until f.Limit matches are collected.
func (s *JobStore) ListJobs(ctx context.Context, f repository.JobFilter) ([]domain.VerificationJob, error) {
	var (
		out   []domain.VerificationJob
		start map[string]types.AttributeValue
	)
	for {
		res, err := s.client.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(s.table),
			IndexName:              aws.String(ListIndex),
			KeyConditionExpression: aws.String("GSI1PK = :pk"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":pk": &types.AttributeValueMemberS{Value: listPartition},
			},
			ScanIndexForward:  aws.Bool(false),
			ExclusiveStartKey: start,
		})
		if err != nil {
			return nil, fmt.Errorf("query jobs from DynamoDB: %w", err)
		}
		for _, raw := range res.Items {
			var it jobItem
			if err := attributevalue.UnmarshalMap(raw, &it); err != nil {
				continue
			}
			job := it.job()
			if !f.Matches(job) {
				continue
			}
			out = append(out, *job)
			if f.Limit > 0 && len(out) >= f.Limit {
				return out, nil
			}
		}
		if len(res.LastEvaluatedKey) == 0 {
			return out, nil
		}
		start = res.LastEvaluatedKey
	}
}

// TransitionJob reads the current status, checks the state machine and
// writes conditionally on that status so concurrent transitions cannot both
// succeed.
func (s *JobStore) TransitionJob(ctx context.Context, id string, t domain.JobTransition) error {
	current, err := s.GetJob(ctx, id)
	if err != nil {
		return err
	}
	if !domain.CanTransition(current.Status, t.Status) {
		return fmt.Errorf("job %s %s -> %s: %w", id, current.Status, t.Status, repository.ErrInvalidTransition)
	}

	sets := []string{"#status = :to"}
	values := map[string]types.AttributeValue{
		":to":   &types.AttributeValueMemberS{Value: string(t.Status)},
		":from": &types.AttributeValueMemberS{Value: string(current.Status)},
	}
	add := func(attr, placeholder string, v any) error {
		av, err := attributevalue.Marshal(v)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", attr, err)
		}
		sets = append(sets, attr+" = "+placeholder)
		values[placeholder] = av
		return nil
	}
	if t.StartedAt != nil {
		if err := add("startedAt", ":started", t.StartedAt.UTC()); err != nil {
			return err
		}
	}
	if t.CompletedAt != nil {
		if err := add("completedAt", ":completed", t.CompletedAt.UTC()); err != nil {
			return err
		}
	}
	if t.Results != nil {
		if err := add("results", ":results", t.Results); err != nil {
			return err
		}
	}
	if t.Error != nil {
		if err := add("#error", ":error", *t.Error); err != nil {
			return err
		}
	}

	names := map[string]string{"#status": "status"}
	if t.Error != nil {
		names["#error"] = "error"
	}
	_, err = s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.table),
		Key:                       jobKey(id),
		UpdateExpression:          aws.String("SET " + strings.Join(sets, ", ")),
		ConditionExpression:       aws.String("#status = :from"),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
	})
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return fmt.Errorf("job %s changed concurrently: %w", id, repository.ErrInvalidTransition)
	}
	if err != nil {
		return fmt.Errorf("update job in DynamoDB: %w", err)
	}
	return nil
}

// RecordProgress writes the counter only when it does not move backwards.
// A ping that loses that race is dropped silently.
func (s *JobStore) RecordProgress(ctx context.Context, id string, processed int, currentEmail string) error {
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(s.table),
		Key:                 jobKey(id),
		UpdateExpression:    aws.String("SET processed = :p, currentEmail = :e"),
		ConditionExpression: aws.String("attribute_exists(PK) AND processed <= :p"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":p": &types.AttributeValueMemberN{Value: fmt.Sprint(processed)},
			":e": &types.AttributeValueMemberS{Value: currentEmail},
		},
	})
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("record progress in DynamoDB: %w", err)
	}
	return nil
}
