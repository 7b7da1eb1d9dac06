package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"tacticaldesk/internal/services"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// seedFile automation 种子文件格式
//
//	automations:
//	  - name: Notify on resolve
//	    trigger_filters:
//	      match: all
//	      conditions:
//	        - {type: Ticket Status Changed To, operator: equals, value: Resolved}
//	    ticket_actions:
//	      - {action: send-ntfy-notification, value: "Ticket {{ ticket.id }} resolved"}
type seedFile struct {
	Automations []seedAutomation `yaml:"automations"`
}

type seedAutomation struct {
	Name           string `yaml:"name"`
	Description    string `yaml:"description"`
	Playbook       string `yaml:"playbook"`
	Kind           string `yaml:"kind"`
	Cadence        string `yaml:"cadence"`
	Trigger        string `yaml:"trigger"`
	Status         string `yaml:"status"`
	TriggerFilters any    `yaml:"trigger_filters"`
	TicketActions  any    `yaml:"ticket_actions"`
}

// SeedResult 种子导入结果
type SeedResult struct {
	Created []string
	Skipped []string
}

// loadSeedFile 读取并解析 YAML 种子文件
func loadSeedFile(path string) (*seedFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open seed file: %w", err)
	}
	defer f.Close()
	return decodeSeed(f)
}

func decodeSeed(r io.Reader) (*seedFile, error) {
	var seed seedFile
	if err := yaml.NewDecoder(r).Decode(&seed); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse seed file: %w", err)
	}
	return &seed, nil
}

// seedAutomations 通过 AutomationService 创建种子中的自动化，同名规则跳过
func seedAutomations(ctx context.Context, svc *services.AutomationService, seed *seedFile, logger *logrus.Logger) (*SeedResult, error) {
	result := &SeedResult{}
	for i, item := range seed.Automations {
		req, err := item.request()
		if err != nil {
			return result, fmt.Errorf("automation #%d (%s): %w", i+1, item.Name, err)
		}
		if _, err := svc.CreateAutomation(ctx, req); err != nil {
			if errors.Is(err, services.ErrAutomationNameTaken) {
				logger.WithField("automation", item.Name).Info("Seed automation exists, skipping")
				result.Skipped = append(result.Skipped, item.Name)
				continue
			}
			return result, fmt.Errorf("automation #%d (%s): %w", i+1, item.Name, err)
		}
		logger.WithField("automation", item.Name).Info("Seeded automation")
		result.Created = append(result.Created, item.Name)
	}
	return result, nil
}

func (s seedAutomation) request() (*services.AutomationRequest, error) {
	req := &services.AutomationRequest{
		Name:        s.Name,
		Description: s.Description,
		Playbook:    s.Playbook,
		Kind:        s.Kind,
		Cadence:     s.Cadence,
		Status:      s.Status,
	}
	if s.Trigger != "" {
		trigger := s.Trigger
		req.Trigger = &trigger
	}
	var err error
	if req.TriggerFilters, err = toRawJSON(s.TriggerFilters); err != nil {
		return nil, fmt.Errorf("trigger_filters: %w", err)
	}
	if req.TicketActions, err = toRawJSON(s.TicketActions); err != nil {
		return nil, fmt.Errorf("ticket_actions: %w", err)
	}
	return req, nil
}

// toRawJSON 将 YAML 解码出的值转为 JSON；nil 保持为空
func toRawJSON(value any) (json.RawMessage, error) {
	if value == nil {
		return nil, nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	return raw, nil
}
