package utils

import (
	"math/rand"
	"time"

	"gorm.io/gorm"

	"github.com/quizmasterhq/quizmaster/models"
)

const quizCodeLength = 6
const letterBytes = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// GenerateUniqueQuizCode produces a short join code not used by any
// existing quiz. Collisions are resolved by retrying.
func GenerateUniqueQuizCode(tx *gorm.DB) (string, error) {
	seededRand := rand.New(rand.NewSource(time.Now().UnixNano()))

	for {
		b := make([]byte, quizCodeLength)
		for i := range b {
			b[i] = letterBytes[seededRand.Intn(len(letterBytes))]
		}
		code := string(b)

		var quiz models.Quiz
		err := tx.Where("code = ?", code).First(&quiz).Error
		if err != nil {
			if err == gorm.ErrRecordNotFound {
				return code, nil
			}
			return "", err
		}
	}
}
