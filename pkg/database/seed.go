package database

import (
	"log"
	"therapy_backend/internal/model"

	"gorm.io/gorm"
)

var phq9Questions = []string{
	"Little interest or pleasure in doing things",
	"Feeling down, depressed, or hopeless",
	"Trouble falling or staying asleep, or sleeping too much",
	"Feeling tired or having little energy",
	"Poor appetite or overeating",
	"Feeling bad about yourself, or that you are a failure or have let yourself or your family down",
	"Trouble concentrating on things, such as reading the newspaper or watching television",
	"Moving or speaking so slowly that other people could have noticed, or being so fidgety or restless that you have been moving around a lot more than usual",
	"Thoughts that you would be better off dead, or of hurting yourself in some way",
}

var frequencyChoices = []model.Choice{
	{Text: "Not at all", Score: 0},
	{Text: "Several days", Score: 1},
	{Text: "More than half the days", Score: 2},
	{Text: "Nearly every day", Score: 3},
}

// SeedDemoContent 内容库为空时写入默认的抑郁项目（PHQ-9 与活动日记）
func SeedDemoContent(db *gorm.DB) error {
	var count int64
	if err := db.Model(&model.Module{}).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	return db.Transaction(func(tx *gorm.DB) error {
		program := &model.Program{
			Title:       "Depression",
			Description: "Step-by-step CBT programme for low mood.",
		}
		if err := tx.Create(program).Error; err != nil {
			return err
		}

		phq9 := &model.Module{
			ProgramID:    program.ID,
			Title:        "PHQ-9",
			Description:  "Patient Health Questionnaire-9 (depression severity)",
			Type:         model.ModuleQuestionnaire,
			AccessPolicy: model.AccessOpen,
			Disclaimer:   "The PHQ-9 is a screening tool and does not replace professional diagnosis. If you have thoughts of self-harm, seek help immediately.",
		}
		if err := tx.Create(phq9).Error; err != nil {
			return err
		}
		for i, text := range phq9Questions {
			q := &model.Question{
				ModuleID: phq9.ID,
				Order:    i + 1,
				Text:     text,
				Choices:  append([]model.Choice(nil), frequencyChoices...),
			}
			if err := tx.Create(q).Error; err != nil {
				return err
			}
		}
		bands := []model.ScoreBand{
			{ModuleID: phq9.ID, Min: 0, Max: 4, Label: "Minimal", Interpretation: "Minimal depression"},
			{ModuleID: phq9.ID, Min: 5, Max: 9, Label: "Mild", Interpretation: "Mild depression"},
			{ModuleID: phq9.ID, Min: 10, Max: 14, Label: "Moderate", Interpretation: "Moderate depression"},
			{ModuleID: phq9.ID, Min: 15, Max: 19, Label: "Moderately severe", Interpretation: "Moderately severe depression"},
			{ModuleID: phq9.ID, Min: 20, Max: 27, Label: "Severe", Interpretation: "Severe depression"},
		}
		if err := tx.Create(&bands).Error; err != nil {
			return err
		}

		diary := &model.Module{
			ProgramID:    program.ID,
			Title:        "Activity Diary",
			Description:  "Track your activities through the day alongside mood, achievement, closeness and enjoyment.",
			Type:         model.ModuleActivityDiary,
			AccessPolicy: model.AccessAssigned,
			Disclaimer:   "This diary is for self-monitoring and does not replace professional care. If you feel unsafe, seek immediate help.",
		}
		if err := tx.Create(diary).Error; err != nil {
			return err
		}

		log.Println("Demo content seeded")
		return nil
	})
}
