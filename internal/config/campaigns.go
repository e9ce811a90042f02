package config

import (
	"fmt"
	"os"

	"github.com/azure/reply-campaigns-bot/internal/models"
	"gopkg.in/yaml.v3"
)

type campaignFile struct {
	Campaigns []models.Campaign `yaml:"campaigns"`
}

// LoadCampaignSeeds reads draft campaign definitions from a YAML file
func LoadCampaignSeeds(path string) ([]models.Campaign, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read campaigns file: %w", err)
	}

	var file campaignFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse campaigns file: %w", err)
	}

	for i := range file.Campaigns {
		c := &file.Campaigns[i]
		c.ApplyDefaults()
		if err := c.Validate(); err != nil {
			return nil, fmt.Errorf("campaign %d (%s): %w", i, c.Name, err)
		}
	}

	return file.Campaigns, nil
}
