package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/benmeehan/debloat-agent/internal/constants"
	"github.com/benmeehan/debloat-agent/internal/models"
	"github.com/benmeehan/debloat-agent/pkg/encryption"
	"github.com/benmeehan/debloat-agent/pkg/identity"
	"github.com/benmeehan/debloat-agent/pkg/mqtt"
	MQTT "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

var (
	// ErrActionUnavailable is returned for actions whose service is not wired.
	ErrActionUnavailable = errors.New("action not available")
	// ErrInvalidSignature rejects commands whose HMAC trailer does not verify.
	ErrInvalidSignature = errors.New("invalid command signature")
)

// CommandService executes debloat actions received via MQTT and publishes
// the results back to a response topic.
type CommandService struct {
	// Configuration Fields
	prefix           string
	qos              int
	maxExecutionTime int

	// Dependencies
	mqttClient mqtt.MQTTClient
	agentInfo  identity.AgentInfoInterface
	packages   *PackageService
	health     *HealthService
	backups    *BackupService
	signer     encryption.PayloadSigner
	logger     zerolog.Logger

	// Internal state management
	stopChan chan struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex

	// Context for cancellation
	ctx    context.Context
	cancel context.CancelFunc
}

// NewCommandService initializes a new CommandService. Any of packages,
// health and backups may be nil; their actions then fail.
func NewCommandService(prefix string, qos, maxExecutionTime int, mqttClient mqtt.MQTTClient, agentInfo identity.AgentInfoInterface,
	packages *PackageService, health *HealthService, backups *BackupService, logger zerolog.Logger) *CommandService {
	if maxExecutionTime == 0 {
		maxExecutionTime = constants.DefaultMaxExecutionTime
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &CommandService{
		prefix:           strings.TrimSuffix(prefix, "/"),
		qos:              qos,
		maxExecutionTime: maxExecutionTime,
		mqttClient:       mqttClient,
		agentInfo:        agentInfo,
		packages:         packages,
		health:           health,
		backups:          backups,
		logger:           logger,
		stopChan:         make(chan struct{}),
		ctx:              ctx,
		cancel:           cancel,
	}
}

// SetSigner requires every command to carry a valid signature and signs
// every response. Call before Start.
func (cs *CommandService) SetSigner(signer encryption.PayloadSigner) {
	cs.signer = signer
}

// Topic is the topic commands are received on.
func (cs *CommandService) Topic() string {
	return fmt.Sprintf("%s/%s/%s", cs.prefix, cs.agentInfo.GetAgentID(), constants.CommandTopicSuffix)
}

// Start subscribes to the command topic.
func (cs *CommandService) Start() error {
	topic := cs.Topic()
	cs.logger.Info().Str("topic", topic).Msg("Starting CommandService and subscribing to MQTT topic")
	token := cs.mqttClient.Subscribe(topic, byte(cs.qos), cs.HandleCommand)
	token.Wait()
	if err := token.Error(); err != nil {
		cs.logger.Error().Err(err).Str("topic", topic).Msg("Failed to subscribe to MQTT topic")
		return err
	}

	cs.logger.Info().Str("topic", topic).Msg("Successfully subscribed to MQTT topic")
	return nil
}

// Stop unsubscribes and waits for running commands to finish.
func (cs *CommandService) Stop() error {
	cs.mu.Lock()
	select {
	case <-cs.stopChan:
		cs.mu.Unlock()
		return errors.New("command service is not running")
	default:
		close(cs.stopChan)
	}
	cs.mu.Unlock()

	cs.cancel()
	cs.wg.Wait()

	topic := cs.Topic()
	token := cs.mqttClient.Unsubscribe(topic)
	token.Wait()
	if err := token.Error(); err != nil {
		cs.logger.Error().Err(err).Str("topic", topic).Msg("Failed to unsubscribe from MQTT topic")
		return err
	}

	cs.logger.Info().Msg("CommandService stopped successfully")
	return nil
}

// HandleCommand decodes a command, executes it and publishes the result.
func (cs *CommandService) HandleCommand(client MQTT.Client, msg MQTT.Message) {
	cs.mu.Lock()
	select {
	case <-cs.stopChan:
		cs.mu.Unlock()
		cs.logger.Warn().Msg("Received command but service is stopping, ignoring command")
		return
	default:
		cs.wg.Add(1)
		cs.mu.Unlock()
	}
	defer cs.wg.Done()

	payload := msg.Payload()
	if cs.signer != nil {
		verified, ok := cs.signer.VerifyPayloadSignature(payload)
		if !ok {
			cs.logger.Warn().Str("topic", msg.Topic()).Msg("Discarding command with invalid signature")
			cs.publish(cs.ctx, models.RemoteCommandResult{Success: false, Error: ErrInvalidSignature.Error()})
			return
		}
		payload = verified
	}

	var cmd models.RemoteCommand
	if err := json.Unmarshal(payload, &cmd); err != nil {
		cs.logger.Warn().Err(err).Str("topic", msg.Topic()).Msg("Discarding malformed command")
		cs.publish(cs.ctx, models.RemoteCommandResult{Success: false, Error: "malformed command: " + err.Error()})
		return
	}
	cs.logger.Info().Str("id", cmd.ID).Str("action", cmd.Action).Msg("Received command from MQTT topic")

	ctx, cancel := context.WithTimeout(cs.ctx, time.Duration(cs.maxExecutionTime)*time.Second)
	defer cancel()

	result := models.RemoteCommandResult{ID: cmd.ID, Action: cmd.Action}
	value, err := cs.ExecuteCommand(ctx, cmd)
	if err != nil {
		cs.logger.Error().Err(err).Str("action", cmd.Action).Msg("Command execution failed")
		result.Error = err.Error()
	} else {
		result.Success = true
	}
	if value != nil {
		if data, merr := json.Marshal(value); merr == nil {
			result.Result = data
		}
	}

	if err := cs.publish(cs.ctx, result); err != nil {
		cs.logger.Error().Err(err).Msg("Failed to publish command output")
	}
}

// ExecuteCommand runs one action and returns its JSON-encodable result.
func (cs *CommandService) ExecuteCommand(ctx context.Context, cmd models.RemoteCommand) (interface{}, error) {
	switch cmd.Action {
	case constants.RemoteListPackages:
		if cs.packages == nil {
			return nil, ErrActionUnavailable
		}
		return cs.packages.ListPackages(ctx)

	case constants.RemoteStreamPackages:
		if cs.packages == nil {
			return nil, ErrActionUnavailable
		}
		return nil, cs.packages.StartStream(ctx, cmd.Force)

	case constants.RemoteUninstall, constants.RemoteReinstall:
		if cs.packages == nil {
			return nil, ErrActionUnavailable
		}
		var res models.UninstallResult
		var err error
		if cmd.Action == constants.RemoteUninstall {
			res, err = cs.packages.Uninstall(ctx, cmd.Package)
		} else {
			res, err = cs.packages.Reinstall(ctx, cmd.Package)
		}
		if err == nil && !res.Success {
			err = errors.New(res.Error)
		}
		return res, err

	case constants.RemoteHealth:
		if cs.health == nil {
			return nil, ErrActionUnavailable
		}
		return cs.health.Collect(ctx)

	case constants.RemoteCreateBackup:
		if cs.backups == nil {
			return nil, ErrActionUnavailable
		}
		return cs.backups.Create(ctx, cmd.Packages)

	case constants.RemoteListBackups:
		if cs.backups == nil {
			return nil, ErrActionUnavailable
		}
		return cs.backups.List()

	case constants.RemoteRestoreBackup:
		if cs.backups == nil {
			return nil, ErrActionUnavailable
		}
		return cs.backups.Restore(ctx, cmd.Filename)

	case constants.RemoteImportBackup:
		if cs.backups == nil {
			return nil, ErrActionUnavailable
		}
		return cs.backups.Import(ctx, cmd.URL)
	}
	return nil, fmt.Errorf("unknown action %q", cmd.Action)
}

// publish sends the result to the response topic.
func (cs *CommandService) publish(ctx context.Context, result models.RemoteCommandResult) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return err
	}
	if cs.signer != nil {
		if payload, err = cs.signer.SignPayload(payload); err != nil {
			return err
		}
	}
	topic := cs.Topic() + "/response"

	token := cs.mqttClient.Publish(topic, byte(cs.qos), false, payload)
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			cs.logger.Error().Err(err).Str("topic", topic).Msg("Failed to publish command output")
			return err
		}
	case <-ctx.Done():
		cs.logger.Warn().Str("topic", topic).Msg("Publish operation cancelled")
		return ctx.Err()
	}

	cs.logger.Debug().Str("topic", topic).Str("id", result.ID).Msg("Command output published successfully")
	return nil
}
